package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// ErrInvalidTransition переход недопустим из текущего состояния
var ErrInvalidTransition = errors.New("invalid session state transition")

// События автомата
const (
	eventAccept    = "accept"
	eventStart     = "start"
	eventAbort     = "abort"
	eventReject    = "reject"
	eventTerminate = "terminate"
	eventFail      = "fail"
)

var activeStates = []string{
	StateInvited.String(),
	StateAccepting.String(),
	StateInitiated.String(),
	StateStarted.String(),
}

// eventFor событие, ведущее в терминальное состояние state
var eventFor = map[State]string{
	StateAborted:    eventAbort,
	StateRejected:   eventReject,
	StateTerminated: eventTerminate,
	StateFailed:     eventFail,
}

// Lifecycle автомат жизненного цикла сессии. Терминальное состояние
// достигается один раз, событие StateChanged для него рассылается ровно
// один раз. События рассылаются в порядке переходов.
type Lifecycle struct {
	sessionID string

	mu     sync.Mutex
	fsm    *fsm.FSM
	reason ReasonCode

	// очередь StateChanged; рассылает та горутина, что застала ее пустой
	pending  []StateChanged
	draining bool

	observers *Observers
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewLifecycle создает автомат. Входящая сессия начинает в Invited,
// исходящая в Initiated.
func NewLifecycle(sessionID string, direction Direction, observers *Observers, collector *metrics.Collector, logger *zap.Logger) *Lifecycle {
	l := &Lifecycle{
		sessionID: sessionID,
		observers: observers,
		metrics:   collector,
		logger:    logging.Named(logger, "lifecycle").With(logging.SessionID(sessionID)),
	}

	initial := StateInitiated
	if direction == Incoming {
		initial = StateInvited
	}

	l.fsm = fsm.NewFSM(
		initial.String(),
		fsm.Events{
			// Пользователь принял входящее приглашение
			{Name: eventAccept, Src: []string{StateInvited.String()}, Dst: StateAccepting.String()},
			// Диалог установлен
			{Name: eventStart, Src: []string{StateInvited.String(), StateAccepting.String(), StateInitiated.String()}, Dst: StateStarted.String()},
			{Name: eventAbort, Src: activeStates, Dst: StateAborted.String()},
			{Name: eventReject, Src: []string{StateInvited.String(), StateAccepting.String(), StateInitiated.String()}, Dst: StateRejected.String()},
			{Name: eventTerminate, Src: []string{StateStarted.String()}, Dst: StateTerminated.String()},
			{Name: eventFail, Src: activeStates, Dst: StateFailed.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.metrics.SessionTransition(e.Dst)
				l.logger.Debug("state changed", zap.String("from", e.Src), logging.State(e.Dst))
			},
		},
	)
	return l
}

// State текущее состояние
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State(l.fsm.Current())
}

// Reason причина терминального состояния
func (l *Lifecycle) Reason() ReasonCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// IsTerminal достигнуто ли терминальное состояние
func (l *Lifecycle) IsTerminal() bool {
	return l.State().IsTerminal()
}

// Accept Invited -> Accepting
func (l *Lifecycle) Accept() error {
	return l.fire(eventAccept, ReasonUnspecified)
}

// Start переход в Started после установления диалога
func (l *Lifecycle) Start() error {
	return l.fire(eventStart, ReasonUnspecified)
}

// Abort прекращение сессии. Результат зависит от причины и от того,
// был ли передан контент.
func (l *Lifecycle) Abort(cause TerminationCause, contentTransferred bool) (Outcome, error) {
	out := AbortOutcome(cause, contentTransferred)
	return out, l.fire(eventFor[out.State], out.Reason)
}

// Reject отклонение приглашения
func (l *Lifecycle) Reject(cause TerminationCause) (Outcome, error) {
	out := RejectOutcome(cause)
	return out, l.fire(eventReject, out.Reason)
}

// Complete штатное завершение Started -> Terminated
func (l *Lifecycle) Complete() error {
	return l.fire(eventTerminate, ReasonUnspecified)
}

// HandleError переводит сессию по коду ошибки. SessionInitiationCancelled
// не меняет состояние и ничего не рассылает; applied=false.
func (l *Lifecycle) HandleError(code ErrorCode) (out Outcome, applied bool, err error) {
	out, ok := MapError(code)
	if !ok {
		l.logger.Debug("initiation cancelled, already reported by abort", zap.Stringer("error", code))
		return Outcome{}, false, nil
	}
	if err := l.fire(eventFor[out.State], out.Reason); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (l *Lifecycle) fire(event string, reason ReasonCode) error {
	l.mu.Lock()
	from := l.fsm.Current()
	err := l.fsm.Event(context.Background(), event)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, from, err)
	}
	state := State(l.fsm.Current())
	if state.IsTerminal() {
		l.reason = reason
	}
	l.pending = append(l.pending, StateChanged{SessionID: l.sessionID, State: state, Reason: reason})
	if l.draining {
		l.mu.Unlock()
		return nil
	}
	l.draining = true
	l.drainLocked()
	l.draining = false
	l.mu.Unlock()
	return nil
}

// drainLocked рассылает очередь по одному событию. Блокировка снимается
// на время вызова подписчиков: они могут читать состояние и вызывать
// переходы.
func (l *Lifecycle) drainLocked() {
	for len(l.pending) > 0 {
		event := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		l.observers.StateChanged(event)
		l.mu.Lock()
	}
	l.pending = nil
}
