// Package core собирает сигнальное ядро процесса: транспорт, транзакции,
// регистрацию, keep-alive и общие для всех сессий пул, реестр и
// наблюдателей. Входящие запросы распределяются по сессиям по Call-ID.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/config"
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/registration"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/arzzra/rcs_core/pkg/transaction"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrAlreadyStarted повторный Start
var ErrAlreadyStarted = errors.New("core already started")

// Transport сетевой уровень ядра. *transaction.SipgoTransport реализует
// этот интерфейс.
type Transport interface {
	transaction.Transport
	SetHandler(h transaction.RequestHandler)
	Listen(ctx context.Context) error
	Close() error
}

// IncomingHandler приложение, принимающее входящие сессии
type IncomingHandler interface {
	// SessionOptions параметры новой входящей сессии, например SDP ответ
	SessionOptions(invite *sip.Request) session.Options
	// IncomingSession вызывается для созданной сессии до 180 Ringing.
	// Ответ пользователя передается через Session.Accept или Session.Reject.
	IncomingSession(s *session.Session)
}

// MessageHandler обработчик MESSAGE вне сессии, возвращает код ответа
type MessageHandler func(req *sip.Request) int

// Option настройка Core
type Option func(*Core)

// WithTransport подменяет транспорт sipgo
func WithTransport(t Transport) Option {
	return func(c *Core) { c.transport = t }
}

// WithLogger задает логгер вместо построенного из конфигурации
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithIncomingHandler задает обработчик входящих сессий
func WithIncomingHandler(h IncomingHandler) Option {
	return func(c *Core) { c.incoming = h }
}

// WithMessageHandler задает обработчик MESSAGE
func WithMessageHandler(h MessageHandler) Option {
	return func(c *Core) { c.onMessage = h }
}

// Core контекст сигнального ядра процесса
type Core struct {
	cfg *config.Config

	logger    *zap.Logger
	metrics   *metrics.Collector
	builder   *builder.Builder
	transport Transport
	manager   *transaction.Manager
	registrar *registration.Registrar
	keepAlive *registration.KeepAlive

	pool      *session.Pool
	observers *session.Observers
	registry  *session.Registry
	minExpire *dialog.MinExpireRegistry

	incoming  IncomingHandler
	onMessage MessageHandler

	route []string

	mu sync.Mutex
	// ctx живет от Start до Stop, в нем работают сессии и keep-alive
	ctx        context.Context
	cancel     context.CancelFunc
	stopListen context.CancelFunc
	wg         sync.WaitGroup
	httpSrv    *http.Server
}

// New создает ядро по конфигурации. Сеть не используется до Start.
func New(cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Core{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		c.logger = logger
	}

	c.metrics = metrics.New(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
		Subsystem: cfg.Metrics.Subsystem,
	})

	b, err := builder.New(builder.Stack{
		ContactURI:        cfg.ContactURI(),
		ViaHost:           cfg.SIP.Hostname,
		ViaPort:           cfg.SIP.ListenPort,
		Transport:         cfg.SIP.Network,
		UserAgent:         cfg.SIP.UserAgent,
		PreferredIdentity: cfg.SIP.PublicURI,
		HomeDomain:        cfg.SIP.HomeDomain,
	}, builder.WithLogger(logging.Named(c.logger, "builder")))
	if err != nil {
		return nil, fmt.Errorf("create message builder: %w", err)
	}
	c.builder = b

	if c.transport == nil {
		t, err := transaction.NewSipgoTransport(transaction.TransportConfig{
			Network:    cfg.SIP.Network,
			ListenHost: cfg.SIP.ListenHost,
			ListenPort: cfg.SIP.ListenPort,
			Hostname:   cfg.SIP.Hostname,
			UserAgent:  cfg.SIP.UserAgent,
		}, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}

	if cfg.SIP.Proxy != "" {
		c.route = []string{cfg.SIP.Proxy}
	}

	c.keepAlive = registration.NewKeepAlive(cfg.SIP.KeepAlivePeriod, c.ping, c.logger)

	c.manager, err = transaction.NewManager(transaction.Config{
		Transport:       c.transport,
		Builder:         b,
		KeepAlive:       c.keepAlive,
		Timeout:         cfg.SIP.Timeout,
		KeepAlivePeriod: cfg.SIP.KeepAlivePeriod,
		Logger:          c.logger,
		Metrics:         c.metrics,
	})
	if err != nil {
		return nil, err
	}

	if cfg.SIP.PublicURI != "" {
		c.registrar, err = registration.NewRegistrar(registration.Config{
			Builder:     b,
			Sender:      c.manager,
			PublicURI:   cfg.SIP.PublicURI,
			HomeDomain:  cfg.SIP.HomeDomain,
			Route:       c.route,
			Expire:      cfg.Registration.Expire,
			InstanceID:  cfg.Registration.InstanceID,
			FeatureTags: cfg.Registration.FeatureTags,
			Timeout:     cfg.SIP.Timeout,
			OnStatus:    c.registrationStatus,
			Logger:      c.logger,
			Metrics:     c.metrics,
		})
		if err != nil {
			return nil, err
		}
		c.manager.SetRegistrationManager(c.registrar)
	}

	c.pool = session.NewPool(cfg.Pool.Size, cfg.Pool.Queue, c.logger)
	c.observers = session.NewObservers(c.logger)
	c.registry = session.NewRegistry()
	c.minExpire = dialog.NewMinExpireRegistry()

	c.transport.SetHandler(c.handleRequest)
	return c, nil
}

// Config конфигурация ядра
func (c *Core) Config() *config.Config { return c.cfg }

// Logger логгер ядра
func (c *Core) Logger() *zap.Logger { return c.logger }

// Metrics сборщик метрик ядра
func (c *Core) Metrics() *metrics.Collector { return c.metrics }

// Manager транзакционный уровень
func (c *Core) Manager() *transaction.Manager { return c.manager }

// Registrar клиент регистрации, nil без публичного URI
func (c *Core) Registrar() *registration.Registrar { return c.registrar }

// KeepAlive keep-alive исходящего соединения
func (c *Core) KeepAlive() *registration.KeepAlive { return c.keepAlive }

// Observers подписчики событий сессий
func (c *Core) Observers() *session.Observers { return c.observers }

// Registry реестр активных сессий
func (c *Core) Registry() *session.Registry { return c.registry }

// Start запускает прием запросов, keep-alive и регистрацию
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	listenCtx, stopListen := context.WithCancel(ctx)
	c.stopListen = stopListen
	ctx = c.ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.transport.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("transport stopped", zap.Error(err))
		}
	}()

	c.startMetricsServer()

	if c.cfg.SIP.KeepAliveEnabled {
		c.keepAlive.Start(ctx)
	}

	if c.registrar != nil && c.cfg.Registration.Enabled {
		if err := c.registrar.Register(ctx); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	c.logger.Info("core started",
		zap.String("contact", c.builder.Stack().ContactURI),
		zap.Bool("registered", c.IsRegistered()))
	return nil
}

// Stop прекращает активные сессии, снимает регистрацию и закрывает
// транспорт. ctx ограничивает время на BYE и снятие регистрации.
// Транспорт слушает до конца, чтобы BYE и REGISTER получили ответы.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, stopListen := c.cancel, c.stopListen
	c.cancel, c.stopListen = nil, nil
	srv := c.httpSrv
	c.httpSrv = nil
	c.mu.Unlock()

	for _, s := range c.registry.Sessions() {
		if err := s.Abort(ctx, session.CauseSystem); err != nil {
			c.logger.Debug("session abort skipped", logging.SessionID(s.ID()), zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}
	c.pool.Close()
	c.keepAlive.Stop()

	var errs []error
	if c.registrar != nil {
		if err := c.registrar.Unregister(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unregister: %w", err))
		}
		c.registrar.Stop()
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if stopListen != nil {
		stopListen()
	}
	c.wg.Wait()
	c.manager.Wait()

	if err := c.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = c.logger.Sync()
	return errors.Join(errs...)
}

// IsRegistered зарегистрировано ли ядро в IMS
func (c *Core) IsRegistered() bool {
	return c.registrar != nil && c.registrar.IsRegistered()
}

func (c *Core) registrationStatus(status registration.Status) {
	c.logger.Info("registration status changed", zap.Stringer("status", status))
	if status != registration.StatusFailed {
		return
	}
	// регистрация потеряна, сессии без сети не живут
	for _, s := range c.registry.Sessions() {
		if err := s.Abort(context.Background(), session.CauseConnectionLost); err != nil {
			c.logger.Debug("session abort skipped", logging.SessionID(s.ID()), zap.Error(err))
		}
	}
}

func (c *Core) startMetricsServer() {
	addr := c.cfg.Metrics.Listen
	reg := c.metrics.Registry()
	if addr == "" || reg == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	c.mu.Lock()
	c.httpSrv = srv
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	c.logger.Info("metrics server listening", zap.String("address", addr))
}

// sessionDeps зависимости, общие для всех сессий ядра
func (c *Core) sessionDeps() session.Deps {
	return session.Deps{
		Builder:   c.builder,
		Signaling: c.manager,
		Pool:      c.pool,
		Registry:  c.registry,
		Observers: c.observers,
		MinExpire: c.minExpire,
		Metrics:   c.metrics,
		Logger:    c.logger,
	}
}

func (c *Core) sessionOptions(opts session.Options) session.Options {
	if len(opts.FeatureTags) == 0 {
		opts.FeatureTags = c.cfg.Registration.FeatureTags
	}
	if len(opts.AcceptTags) == 0 {
		opts.AcceptTags = opts.FeatureTags
	}
	if opts.SessionExpire == 0 {
		opts.SessionExpire = c.cfg.Session.Expire
	}
	if opts.RingingPeriod == 0 {
		opts.RingingPeriod = c.cfg.Session.RingingPeriod
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = c.cfg.SIP.Timeout
	}
	return opts
}

// newPath новый исходящий диалог к target через исходящий прокси
func (c *Core) newPath(target string) *dialog.Path {
	return dialog.NewPath(dialog.PathConfig{
		CallID:        dialog.GenerateCallID(c.builder.Stack().ViaHost),
		Target:        target,
		LocalParty:    c.localParty(),
		RemoteParty:   target,
		Route:         c.route,
		SessionExpire: c.cfg.Session.Expire,
		MinExpire:     c.minExpire,
	})
}

func (c *Core) localParty() string {
	if c.cfg.SIP.PublicURI != "" {
		return c.cfg.SIP.PublicURI
	}
	return c.builder.Stack().ContactURI
}

// NewOutgoingSession создает исходящую сессию к target. Сессия
// запускается вызовом Session.Start.
func (c *Core) NewOutgoingSession(target string, opts session.Options) (*session.Session, error) {
	if c.registrar != nil && c.cfg.Registration.Enabled && !c.registrar.IsRegistered() {
		return nil, dialog.ErrNotRegistered
	}
	return session.NewOutgoing(c.sessionDeps(), c.newPath(target), c.sessionOptions(opts))
}

// SendMessage отправляет MESSAGE вне сессии (pager mode)
func (c *Core) SendMessage(ctx context.Context, target, contentType string, content []byte) (*transaction.Context, error) {
	path := c.newPath(target)
	req, err := c.builder.Message(path, "", contentType, content)
	if err != nil {
		return nil, err
	}
	defer c.manager.Forget(path.CallID())
	return c.manager.SendAndWait(ctx, req, c.cfg.SIP.Timeout, nil)
}

// SendOptions запрашивает возможности target
func (c *Core) SendOptions(ctx context.Context, target string) (*transaction.Context, error) {
	path := c.newPath(target)
	req, err := c.builder.Options(path, c.cfg.Registration.FeatureTags)
	if err != nil {
		return nil, err
	}
	defer c.manager.Forget(path.CallID())
	return c.manager.SendAndWait(ctx, req, c.cfg.SIP.Timeout, nil)
}

// ping keep-alive через OPTIONS в домашний домен
func (c *Core) ping(ctx context.Context) error {
	domain := c.cfg.SIP.HomeDomain
	if domain == "" {
		domain = c.builder.Stack().ViaHost
	}
	_, err := c.SendOptions(ctx, "sip:"+domain)
	return err
}
