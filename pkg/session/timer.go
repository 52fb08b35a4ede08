package session

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"go.uber.org/zap"
)

// timerTarget сессия, обслуживаемая таймером RFC 4028
type timerTarget interface {
	// sendRefresh отправляет re-INVITE и на 200 OK подтверждает его ACK
	sendRefresh(ctx context.Context) (statusCode int, err error)
	// sessionExpired завершает сессию по таймауту
	sessionExpired()
}

// Timer таймер обновления сессии (RFC 4028). Роль uac обновляет сессию
// re-INVITE на половине периода, роль uas завершает сессию, если за
// период не пришло ни одного обновления.
type Timer struct {
	target timerTarget
	submit func(func()) error

	mu          sync.Mutex
	role        string
	period      time.Duration
	lastRefresh time.Time
	timer       *time.Timer
	active      bool
	ctx         context.Context
	cancel      context.CancelFunc

	logger *zap.Logger
}

func newTimer(target timerTarget, submit func(func()) error, logger *zap.Logger) *Timer {
	return &Timer{
		target: target,
		submit: submit,
		logger: logging.Named(logger, "session_timer"),
	}
}

// Start запускает таймер в роли role с периодом period
func (t *Timer) Start(role string, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.role = role
	t.period = period
	t.lastRefresh = time.Now()
	t.active = true
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.logger.Debug("session timer started", zap.String("role", role), zap.Duration("period", period))
	t.scheduleLocked()
}

// Stop останавливает таймер
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// ReceiveRefresh отмечает обновление сессии удаленной стороной
func (t *Timer) ReceiveRefresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRefresh = time.Now()
}

// Active работает ли таймер
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Role текущая роль
func (t *Timer) Role() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.active = false
}

func (t *Timer) scheduleLocked() {
	delay := t.period
	if t.role == dialog.RefresherUAC {
		delay = t.period / 2
	}
	t.scheduleAfterLocked(delay)
}

func (t *Timer) scheduleAfterLocked(delay time.Duration) {
	ctx := t.ctx
	t.timer = time.AfterFunc(delay, func() {
		if t.submit == nil {
			t.fire(ctx)
			return
		}
		if err := t.submit(func() { t.fire(ctx) }); err != nil {
			t.logger.Warn("session timer task rejected", zap.Error(err))
		}
	})
}

func (t *Timer) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	role := t.role
	t.mu.Unlock()

	if role == dialog.RefresherUAC {
		t.refreshAsUAC(ctx)
		return
	}
	t.checkAsUAS(ctx)
}

func (t *Timer) refreshAsUAC(ctx context.Context) {
	code, err := t.target.sendRefresh(ctx)
	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil:
		t.logger.Warn("session refresh failed", zap.Error(err))
		t.Stop()
	case code == builder.StatusOK:
		t.mu.Lock()
		if t.active && t.ctx == ctx {
			t.lastRefresh = time.Now()
			t.scheduleLocked()
		}
		t.mu.Unlock()
	case code == builder.StatusMethodNotAllowed:
		t.logger.Info("session refresh not supported by remote")
		t.Stop()
	default:
		t.logger.Info("session refresh rejected, closing session", logging.StatusCode(code))
		t.Stop()
		t.target.sessionExpired()
	}
}

func (t *Timer) checkAsUAS(ctx context.Context) {
	t.mu.Lock()
	if !t.active || t.ctx != ctx {
		t.mu.Unlock()
		return
	}
	// следующая проверка в момент истечения периода от последнего обновления
	remaining := t.period - time.Since(t.lastRefresh)
	if remaining > 0 {
		t.scheduleAfterLocked(remaining)
		t.mu.Unlock()
		return
	}
	t.stopLocked()
	t.mu.Unlock()

	t.logger.Info("session not refreshed within period, closing session")
	t.target.sessionExpired()
}
