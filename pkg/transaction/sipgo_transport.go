package transaction

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// RequestHandler обработчик входящего запроса. Ответ отправляется через
// Manager.SendResponse, транспорт сам находит серверную транзакцию.
type RequestHandler func(req *sip.Request)

// TransportConfig параметры SIP транспорта
type TransportConfig struct {
	// Network udp или tcp
	Network    string
	ListenHost string
	ListenPort int
	// Hostname используется sipgo в Via и Contact, если их нет в запросе
	Hostname  string
	UserAgent string
}

// Validate проверяет конфигурацию
func (c TransportConfig) Validate() error {
	switch strings.ToLower(c.Network) {
	case "udp", "tcp":
	default:
		return fmt.Errorf("unsupported network %q", c.Network)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	return nil
}

// Address адрес для прослушивания host:port
func (c TransportConfig) Address() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// SipgoTransport транспорт поверх sipgo: клиент для исходящих транзакций
// и сервер для входящих запросов
type SipgoTransport struct {
	config TransportConfig

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	mu      sync.Mutex
	handler RequestHandler
	pending map[string]*serverTx
	closed  bool
	done    chan struct{}

	logger *zap.Logger
}

var _ Transport = (*SipgoTransport)(nil)

// NewSipgoTransport создает UA, клиент и сервер sipgo
func NewSipgoTransport(cfg TransportConfig, logger *zap.Logger) (*SipgoTransport, error) {
	if cfg.Network == "" {
		cfg.Network = "udp"
	}
	cfg.Network = strings.ToLower(cfg.Network)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "rcs-core"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = cfg.ListenHost
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
		sipgo.WithUserAgentHostname(cfg.Hostname),
	)
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}

	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.Hostname),
	)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = client.Close()
		_ = ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}

	t := &SipgoTransport{
		config:  cfg,
		ua:      ua,
		client:  client,
		server:  server,
		pending: make(map[string]*serverTx),
		done:    make(chan struct{}),
		logger:  logging.Named(logger, "sipgo"),
	}
	t.registerHandlers()
	return t, nil
}

func (t *SipgoTransport) registerHandlers() {
	t.server.OnInvite(t.onRequest)
	t.server.OnAck(t.onRequest)
	t.server.OnBye(t.onRequest)
	t.server.OnCancel(t.onRequest)
	t.server.OnOptions(t.onRequest)
	t.server.OnMessage(t.onRequest)
	t.server.OnUpdate(t.onRequest)
	t.server.OnNotify(t.onRequest)
	t.server.OnRefer(t.onRequest)
}

// SetHandler задает обработчик входящих запросов
func (t *SipgoTransport) SetHandler(h RequestHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Listen запускает прием запросов, блокирует до отмены ctx
func (t *SipgoTransport) Listen(ctx context.Context) error {
	addr := t.config.Address()
	t.logger.Info("listening", zap.String("network", t.config.Network), zap.String("address", addr))
	return t.server.ListenAndServe(ctx, t.config.Network, addr)
}

// Request открывает клиентскую транзакцию. Via, From, To и CSeq уже
// выставлены построителем сообщений.
func (t *SipgoTransport) Request(ctx context.Context, req *sip.Request) (ClientTransaction, error) {
	tx, err := t.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// WriteRequest отправляет запрос без транзакции
func (t *SipgoTransport) WriteRequest(req *sip.Request) error {
	return t.client.WriteRequest(req)
}

// WriteResponse отвечает через серверную транзакцию запроса, а если
// она уже завершена, отправляет ответ напрямую
func (t *SipgoTransport) WriteResponse(res *sip.Response) error {
	key := transactionKey(res)

	t.mu.Lock()
	stx, ok := t.pending[key]
	t.mu.Unlock()

	if !ok {
		return t.server.WriteResponse(res)
	}
	err := stx.tx.Respond(res)
	if res.StatusCode >= 200 {
		stx.finish()
	}
	return err
}

// Close закрывает клиент, сервер и UA
func (t *SipgoTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	if err := t.client.Close(); err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	if err := t.server.Close(); err != nil {
		return fmt.Errorf("close server: %w", err)
	}
	if err := t.ua.Close(); err != nil {
		return fmt.Errorf("close user agent: %w", err)
	}
	return nil
}

// serverTx серверная транзакция, ожидающая ответа приложения
type serverTx struct {
	tx    sip.ServerTransaction
	final chan struct{}
	once  sync.Once
}

func (s *serverTx) finish() {
	s.once.Do(func() { close(s.final) })
}

func (t *SipgoTransport) onRequest(req *sip.Request, tx sip.ServerTransaction) {
	var stx *serverTx
	t.mu.Lock()
	handler := t.handler
	if tx != nil {
		key := transactionKey(req)
		stx = &serverTx{tx: tx, final: make(chan struct{})}
		t.pending[key] = stx
		go t.forgetOnDone(key, stx)
	}
	t.mu.Unlock()

	t.logger.Debug("request received", logging.Method(string(req.Method)), logging.CallID(callIDOf(req)))
	if handler == nil {
		t.logger.Warn("no handler for incoming request", logging.Method(string(req.Method)))
		return
	}
	if stx == nil || !req.IsInvite() {
		handler(req)
		return
	}

	// CANCEL на живую транзакцию sipgo обрабатывает сам, сессии он
	// передается отдельно
	tx.OnCancel(func(cancel *sip.Request) {
		t.logger.Debug("request received", logging.Method(string(cancel.Method)), logging.CallID(callIDOf(cancel)))
		go handler(cancel)
	})
	handler(req)

	// sipgo завершает транзакцию после возврата из обработчика, а
	// финальный ответ на INVITE приходит позже из сессии
	t.awaitFinal(stx)
}

// awaitFinal блокирует до финального ответа, завершения транзакции
// или закрытия транспорта
func (t *SipgoTransport) awaitFinal(stx *serverTx) {
	select {
	case <-stx.final:
	case <-stx.tx.Done():
	case <-t.done:
	}
}

func (t *SipgoTransport) forgetOnDone(key string, stx *serverTx) {
	<-stx.tx.Done()
	t.mu.Lock()
	if t.pending[key] == stx {
		delete(t.pending, key)
	}
	t.mu.Unlock()
}

// transactionKey branch верхнего Via и метод CSeq (RFC 3261 17.2.3)
func transactionKey(msg sip.Message) string {
	var branch, method string
	if via := msg.Via(); via != nil && via.Params != nil {
		branch, _ = via.Params.Get("branch")
	}
	if cseq := msg.CSeq(); cseq != nil {
		method = string(cseq.MethodName)
	}
	return branch + "|" + method
}
