package session

import (
	"fmt"
	"sync"

	"github.com/arzzra/rcs_core/pkg/logging"
	"go.uber.org/zap"
)

// StateChanged событие смены состояния сессии
type StateChanged struct {
	SessionID string
	State     State
	Reason    ReasonCode
}

// Listener подписчик событий сессий
type Listener interface {
	OnSessionStarted(sessionID string)
	OnSessionAborted(sessionID string, reason ReasonCode)
	OnSessionTerminatedByRemote(sessionID string)
	OnTransferError(sessionID string, code ErrorCode)
	OnDeliveryStatus(sessionID, messageID string, status DeliveryStatus)
	OnStateChanged(event StateChanged)
}

// NopListener пустая реализация Listener для встраивания
type NopListener struct{}

func (NopListener) OnSessionStarted(string)                         {}
func (NopListener) OnSessionAborted(string, ReasonCode)             {}
func (NopListener) OnSessionTerminatedByRemote(string)              {}
func (NopListener) OnTransferError(string, ErrorCode)               {}
func (NopListener) OnDeliveryStatus(string, string, DeliveryStatus) {}
func (NopListener) OnStateChanged(StateChanged)                     {}

// Observers реестр подписчиков. Каждое событие доставляется всем
// подписчикам синхронно; паника одного подписчика не прерывает рассылку.
type Observers struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64

	logger *zap.Logger
}

// NewObservers создает пустой реестр подписчиков
func NewObservers(logger *zap.Logger) *Observers {
	return &Observers{
		listeners: make(map[uint64]Listener),
		logger:    logging.Named(logger, "observers"),
	}
}

// Subscribe добавляет подписчика и возвращает функцию отписки
func (o *Observers) Subscribe(l Listener) (unsubscribe func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.listeners[id] = l
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Len число подписчиков
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}

func (o *Observers) snapshot() []Listener {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		out = append(out, l)
	}
	return out
}

func (o *Observers) notify(event string, fn func(Listener)) {
	if o == nil {
		return
	}
	for _, l := range o.snapshot() {
		o.deliver(event, l, fn)
	}
}

func (o *Observers) deliver(event string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panicked",
				zap.String("event", event),
				zap.String("listener", fmt.Sprintf("%T", l)),
				zap.Any("panic", r))
		}
	}()
	fn(l)
}

// SessionStarted рассылает OnSessionStarted
func (o *Observers) SessionStarted(sessionID string) {
	o.notify("started", func(l Listener) { l.OnSessionStarted(sessionID) })
}

// SessionAborted рассылает OnSessionAborted
func (o *Observers) SessionAborted(sessionID string, reason ReasonCode) {
	o.notify("aborted", func(l Listener) { l.OnSessionAborted(sessionID, reason) })
}

// SessionTerminatedByRemote рассылает OnSessionTerminatedByRemote
func (o *Observers) SessionTerminatedByRemote(sessionID string) {
	o.notify("terminated_by_remote", func(l Listener) { l.OnSessionTerminatedByRemote(sessionID) })
}

// TransferError рассылает OnTransferError
func (o *Observers) TransferError(sessionID string, code ErrorCode) {
	o.notify("transfer_error", func(l Listener) { l.OnTransferError(sessionID, code) })
}

// DeliveryStatus рассылает OnDeliveryStatus
func (o *Observers) DeliveryStatus(sessionID, messageID string, status DeliveryStatus) {
	o.notify("delivery_status", func(l Listener) { l.OnDeliveryStatus(sessionID, messageID, status) })
}

// StateChanged рассылает OnStateChanged
func (o *Observers) StateChanged(event StateChanged) {
	o.notify("state_changed", func(l Listener) { l.OnStateChanged(event) })
}
