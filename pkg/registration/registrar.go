// Package registration поддерживает регистрацию в IMS: REGISTER с
// периодическим обновлением, перезапуск при потере регистрации и
// keep-alive исходящего соединения.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/arzzra/rcs_core/pkg/transaction"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultExpire период регистрации по умолчанию
	DefaultExpire = 1200 * time.Second

	statusMovedTemporarily = 302
	statusIntervalTooBrief = 423

	headerMinExpires = "Min-Expires"
	headerExpires    = "Expires"

	// maxRedirects ограничивает цепочку 302 и 423 в одной попытке
	maxRedirects = 3
)

// ErrRegistrationFailed регистрация отклонена сетью
var ErrRegistrationFailed = errors.New("registration failed")

// Sender отправка запроса с ожиданием ответа
type Sender interface {
	SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration, onProvisional transaction.ProvisionalHandler) (*transaction.Context, error)
}

// Status состояние регистрации
type Status int

const (
	StatusUnregistered Status = iota
	StatusRegistered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusFailed:
		return "failed"
	}
	return "unregistered"
}

// Config параметры регистрации
type Config struct {
	Builder *builder.Builder
	Sender  Sender

	// PublicURI публичная идентичность пользователя, From и To
	PublicURI  string
	HomeDomain string
	Route      []string

	Expire      time.Duration
	InstanceID  string
	FeatureTags []string
	Timeout     time.Duration

	// OnStatus вызывается при каждой смене состояния
	OnStatus func(Status)

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Registrar клиент регистрации. Реализует transaction.RegistrationManager.
type Registrar struct {
	cfg Config

	mu      sync.Mutex
	path    *dialog.Path
	expire  time.Duration
	refresh *time.Timer

	registered atomic.Bool
	restarts   atomic.Int32

	logger *zap.Logger
}

// NewRegistrar создает клиента регистрации
func NewRegistrar(cfg Config) (*Registrar, error) {
	if cfg.Builder == nil || cfg.Sender == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "registrar", "builder and sender are required", nil)
	}
	if cfg.PublicURI == "" {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidURI, "public_uri", "public uri is required", nil)
	}
	if cfg.Expire <= 0 {
		cfg.Expire = DefaultExpire
	}
	if cfg.HomeDomain == "" {
		cfg.HomeDomain = cfg.Builder.Stack().HomeDomain
	}
	return &Registrar{
		cfg:    cfg,
		expire: cfg.Expire,
		logger: logging.Named(cfg.Logger, "registrar"),
	}, nil
}

// IsRegistered зарегистрирован ли клиент
func (r *Registrar) IsRegistered() bool {
	return r.registered.Load()
}

// Expire текущий согласованный период регистрации
func (r *Registrar) Expire() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expire
}

// Restarts сколько раз регистрация перезапускалась
func (r *Registrar) Restarts() int {
	return int(r.restarts.Load())
}

// Register выполняет регистрацию и планирует ее обновление
func (r *Registrar) Register(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(ctx, r.expire)
}

// Unregister отправляет REGISTER с Expires: 0
func (r *Registrar) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registered.Load() {
		return nil
	}
	r.stopTimerLocked()
	err := r.registerLocked(ctx, 0)
	r.resetLocked()
	r.setStatus(StatusUnregistered)
	return err
}

// Restart сбрасывает текущую регистрацию и регистрируется заново.
// Вызывается транзакционным уровнем при 403 без Warning.
func (r *Registrar) Restart() {
	r.restarts.Inc()
	r.logger.Info("restarting registration")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimerLocked()
	if r.registered.Load() {
		r.resetLocked()
		r.setStatus(StatusUnregistered)
	}

	ctx := context.Background()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*r.cfg.Timeout)
		defer cancel()
	}
	if err := r.registerLocked(ctx, r.expire); err != nil {
		r.logger.Warn("re-registration failed", zap.Error(err))
	}
}

// Stop останавливает обновление без отмены регистрации
func (r *Registrar) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

func (r *Registrar) registerLocked(ctx context.Context, expire time.Duration) error {
	if r.path == nil {
		r.path = dialog.NewPath(dialog.PathConfig{
			CallID:      dialog.GenerateCallID(r.cfg.Builder.Stack().ViaHost),
			CSeq:        1,
			Target:      "sip:" + r.cfg.HomeDomain,
			LocalParty:  r.cfg.PublicURI,
			RemoteParty: r.cfg.PublicURI,
			Route:       r.cfg.Route,
		})
	} else {
		r.path.IncrementCSeq()
	}

	for attempt := 0; ; attempt++ {
		req, err := r.cfg.Builder.Register(r.path, r.cfg.FeatureTags, expire, r.cfg.InstanceID)
		if err != nil {
			return r.fail(err)
		}
		r.logger.Info("send REGISTER", zap.Duration("expire", expire), logging.CSeq(r.path.CSeq()))

		tc, err := r.cfg.Sender.SendAndWait(ctx, req, r.cfg.Timeout, nil)
		if err != nil {
			return r.fail(err)
		}
		res := tc.Response()
		code := int(res.StatusCode)

		switch {
		case code == builder.StatusOK:
			if expire == 0 {
				return nil
			}
			r.handleOK(res)
			return nil
		case code == statusMovedTemporarily && attempt < maxRedirects:
			contact := res.Contact()
			if contact == nil {
				return r.fail(fmt.Errorf("%w: 302 without Contact", ErrRegistrationFailed))
			}
			r.path.SetTarget(contact.Address.String())
		case code == statusIntervalTooBrief && attempt < maxRedirects:
			minExpire, ok := parseSeconds(res, headerMinExpires)
			if !ok {
				return r.fail(fmt.Errorf("%w: 423 without Min-Expires", ErrRegistrationFailed))
			}
			r.expire = minExpire
			expire = minExpire
		default:
			return r.fail(fmt.Errorf("%w: %d %s", ErrRegistrationFailed, code, res.Reason))
		}
		r.path.IncrementCSeq()
	}
}

func (r *Registrar) handleOK(res *sip.Response) {
	if expire, ok := responseExpire(res); ok {
		r.expire = expire
	}
	r.registered.Store(true)
	r.scheduleLocked()
	r.setStatus(StatusRegistered)
	r.logger.Info("registered", zap.Duration("expire", r.expire))
}

// scheduleLocked обновление на половине периода, для длинных периодов
// за DefaultExpire/2 до истечения
func (r *Registrar) scheduleLocked() {
	delay := r.expire / 2
	if r.expire > DefaultExpire {
		delay = r.expire - DefaultExpire/2
	}
	r.stopTimerLocked()
	r.refresh = time.AfterFunc(delay, func() {
		if err := r.Register(context.Background()); err != nil {
			r.logger.Warn("periodic registration failed", zap.Error(err))
		}
	})
}

func (r *Registrar) stopTimerLocked() {
	if r.refresh != nil {
		r.refresh.Stop()
		r.refresh = nil
	}
}

func (r *Registrar) resetLocked() {
	r.registered.Store(false)
	r.path = nil
}

func (r *Registrar) fail(err error) error {
	r.logger.Warn("registration failed", zap.Error(err))
	r.cfg.Metrics.RecordError(string(dialog.ErrorCategoryRegistration))
	r.stopTimerLocked()
	r.resetLocked()
	r.setStatus(StatusFailed)
	return err
}

func (r *Registrar) setStatus(status Status) {
	if r.cfg.OnStatus != nil {
		r.cfg.OnStatus(status)
	}
}

// responseExpire период из параметра expires Contact или заголовка Expires
func responseExpire(res *sip.Response) (time.Duration, bool) {
	if contact := res.Contact(); contact != nil && contact.Params != nil {
		if value, ok := contact.Params.Get("expires"); ok {
			if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second, true
			}
		}
	}
	return parseSeconds(res, headerExpires)
}

func parseSeconds(msg sip.Message, name string) (time.Duration, bool) {
	h := dialog.Header(msg, name)
	if h == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(h.Value()))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
