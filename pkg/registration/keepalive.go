package registration

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/logging"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// PingFunc отправляет один keep-alive
type PingFunc func(ctx context.Context) error

// KeepAlive периодически поддерживает исходящее соединение с прокси.
// Период согласуется параметром keep в Via (RFC 6223) и меняется через
// SetPeriod. Реализует transaction.KeepAliveManager.
type KeepAlive struct {
	period atomic.Duration
	ping   PingFunc
	reset  chan struct{}

	pings  atomic.Uint64
	errors atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewKeepAlive создает keep-alive с периодом по умолчанию
func NewKeepAlive(period time.Duration, ping PingFunc, logger *zap.Logger) *KeepAlive {
	k := &KeepAlive{
		ping:   ping,
		reset:  make(chan struct{}, 1),
		logger: logging.Named(logger, "keepalive"),
	}
	k.period.Store(period)
	return k
}

// SetPeriod новый период в миллисекундах
func (k *KeepAlive) SetPeriod(periodMs int64) {
	if periodMs <= 0 {
		return
	}
	period := time.Duration(periodMs) * time.Millisecond
	if k.period.Swap(period) == period {
		return
	}
	k.logger.Debug("keep-alive period changed", zap.Duration("period", period))
	select {
	case k.reset <- struct{}{}:
	default:
	}
}

// Period текущий период
func (k *KeepAlive) Period() time.Duration {
	return k.period.Load()
}

// Pings число отправленных keep-alive
func (k *KeepAlive) Pings() uint64 {
	return k.pings.Load()
}

// Errors число неудачных keep-alive
func (k *KeepAlive) Errors() uint64 {
	return k.errors.Load()
}

// Start запускает цикл keep-alive до отмены ctx или вызова Stop
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return
	}
	ctx, k.cancel = context.WithCancel(ctx)
	k.wg.Add(1)
	go k.loop(ctx)
}

// Stop останавливает цикл и ждет его завершения
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	k.wg.Wait()
}

func (k *KeepAlive) loop(ctx context.Context) {
	defer k.wg.Done()

	timer := time.NewTimer(k.Period())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			k.pings.Inc()
			if err := k.ping(ctx); err != nil {
				k.errors.Inc()
				k.logger.Warn("keep-alive failed", zap.Error(err))
			}
		}
		timer.Reset(k.Period())
	}
}
