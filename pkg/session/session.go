// Package session реализует общий для всех RCS сервисов жизненный цикл
// сессии: исходящий INVITE, прием входящего приглашения, прекращение,
// таймер обновления RFC 4028 и рассылку событий подписчикам.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/arzzra/rcs_core/pkg/transaction"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultRingingPeriod время ожидания ответа пользователя
	DefaultRingingPeriod = 60 * time.Second

	reasonCallCompleted = "Call completed"
)

// ErrWrongDirection операция не применима к направлению сессии
var ErrWrongDirection = errors.New("operation not allowed for session direction")

// Signaling транзакционный уровень, через который сессия общается с сетью.
// *transaction.Manager реализует этот интерфейс.
type Signaling interface {
	SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration, onProvisional transaction.ProvisionalHandler) (*transaction.Context, error)
	SendSubsequentRequest(ctx context.Context, path *dialog.Path, req *sip.Request, timeout time.Duration) (*transaction.Context, error)
	SendAck(ctx context.Context, path *dialog.Path) error
	SendResponse(ctx context.Context, res *sip.Response) error
	Forget(callID string)
}

// Deps общие зависимости всех сессий процесса
type Deps struct {
	Builder   *builder.Builder
	Signaling Signaling
	Pool      *Pool
	Registry  *Registry
	Observers *Observers
	MinExpire *dialog.MinExpireRegistry
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Builder == nil:
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "builder", "message builder is required", nil)
	case d.Signaling == nil:
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "signaling", "signaling is required", nil)
	case d.Pool == nil:
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "pool", "worker pool is required", nil)
	}
	return nil
}

// Options параметры конкретной сессии
type Options struct {
	FeatureTags []string
	AcceptTags  []string
	// LocalContent SDP предложение или ответ локальной стороны
	LocalContent string
	// SessionExpire период RFC 4028 для входящей сессии
	SessionExpire time.Duration
	// RingingPeriod ожидание ответа пользователя или удаленной стороны
	RingingPeriod time.Duration
	// AckTimeout ожидание ACK после 200 OK, 0 означает таймаут транзакций
	AckTimeout time.Duration
}

// ReferResult результат приглашения одного участника
type ReferResult struct {
	Participant string
	StatusCode  int
	Err         error
}

// Success участник приглашен
func (r ReferResult) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Session сессия RCS сервиса
type Session struct {
	id        string
	direction Direction
	path      *dialog.Path
	lifecycle *Lifecycle
	timer     *Timer

	deps Deps
	opts Options

	mu                 sync.Mutex
	contentTransferred bool
	answer             InvitationStatus
	answered           chan struct{}
	cleaned            bool

	ack chan struct{}

	// dialogMu сериализует действия, меняющие диалог: CSeq, построение и
	// отправка запроса выполняются под ним целиком
	dialogMu sync.Mutex

	logger *zap.Logger
}

// NewOutgoing создает исходящую сессию для диалога path
func NewOutgoing(deps Deps, path *dialog.Path, opts Options) (*Session, error) {
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	return newSession(deps, Outgoing, path, opts)
}

// NewIncoming создает сессию для входящего INVITE
func NewIncoming(deps Deps, invite *sip.Request, opts Options) (*Session, error) {
	if invite == nil || invite.Method != sip.INVITE {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "invite", "incoming session requires an INVITE", nil)
	}
	path := dialog.NewTerminatingPath(invite, opts.SessionExpire, deps.MinExpire)
	return newSession(deps, Incoming, path, opts)
}

func newSession(deps Deps, direction Direction, path *dialog.Path, opts Options) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if opts.RingingPeriod <= 0 {
		opts.RingingPeriod = DefaultRingingPeriod
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = transaction.DefaultTimeout
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		direction: direction,
		path:      path,
		deps:      deps,
		opts:      opts,
		answered:  make(chan struct{}),
		ack:       make(chan struct{}, 1),
		logger: logging.Named(deps.Logger, "session").With(
			logging.SessionID(id),
			logging.CallID(path.CallID()),
			zap.Stringer("direction", direction)),
	}
	s.lifecycle = NewLifecycle(id, direction, deps.Observers, deps.Metrics, deps.Logger)
	s.timer = newTimer(s, deps.Pool.Submit, s.logger)

	if deps.Registry != nil {
		deps.Registry.Add(s)
	}
	deps.Metrics.SessionStarted()
	return s, nil
}

// ID идентификатор сессии
func (s *Session) ID() string { return s.id }

// Direction направление сессии
func (s *Session) Direction() Direction { return s.direction }

// Path диалог сессии
func (s *Session) Path() *dialog.Path { return s.path }

// Lifecycle автомат состояний сессии
func (s *Session) Lifecycle() *Lifecycle { return s.lifecycle }

// Timer таймер обновления сессии
func (s *Session) Timer() *Timer { return s.timer }

// State текущее состояние
func (s *Session) State() State { return s.lifecycle.State() }

// SetContentTransferred отмечает, что контент сессии передан. После
// этого BYE удаленной стороны считается штатным завершением.
func (s *Session) SetContentTransferred() {
	s.mu.Lock()
	s.contentTransferred = true
	s.mu.Unlock()
}

func (s *Session) isContentTransferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentTransferred
}

// Start запускает исходящую сессию: INVITE, 200 OK, ACK. ctx ограничивает
// весь сценарий и не должен отменяться сразу после вызова.
func (s *Session) Start(ctx context.Context) error {
	if s.direction != Outgoing {
		return ErrWrongDirection
	}
	return s.deps.Pool.Submit(func() { s.startOutgoing(ctx) })
}

func (s *Session) startOutgoing(ctx context.Context) {
	invite, err := s.deps.Builder.Invite(s.path, s.opts.FeatureTags, s.opts.AcceptTags, s.opts.LocalContent)
	if err != nil {
		s.logger.Error("cannot build INVITE", zap.Error(err))
		s.HandleError(SessionInitiationFailed)
		return
	}
	s.path.SetInvite(invite)
	s.path.SetLocalContent(s.opts.LocalContent)
	s.sendInvite(ctx, invite, true)
}

func (s *Session) sendInvite(ctx context.Context, invite *sip.Request, retryTooSmall bool) {
	timeout := s.opts.RingingPeriod + transaction.DefaultTimeout
	tc, err := s.deps.Signaling.SendAndWait(ctx, invite, timeout, s.onProvisional)
	if err != nil {
		s.logger.Warn("INVITE failed", zap.Error(err))
		if dialog.IsTimeout(err) && !s.lifecycle.IsTerminal() {
			s.sendCancel(ctx)
		}
		s.HandleError(SessionInitiationFailed)
		return
	}

	res := tc.Response()
	code := int(res.StatusCode)
	s.logger.Debug("INVITE answered", logging.StatusCode(code))

	switch code {
	case builder.StatusOK:
		s.handleInviteOK(ctx, res)
	case builder.StatusSessionIntervalSmall:
		if !retryTooSmall {
			s.HandleError(SessionInitiationFailed)
			return
		}
		s.retryWithMinSE(ctx, res)
	case builder.StatusBusyHere, builder.StatusTemporarilyUnavail, builder.StatusDecline:
		s.HandleError(SessionInitiationDeclined)
	case builder.StatusRequestTerminated:
		// ответ на наш CANCEL, прекращение уже сообщено
		s.HandleError(SessionInitiationCancelled)
	default:
		s.HandleError(SessionInitiationFailed)
	}
}

func (s *Session) onProvisional(res *sip.Response) {
	s.logger.Debug("provisional response", logging.StatusCode(int(res.StatusCode)))
}

// retryWithMinSE повторяет INVITE с периодом из Min-SE (422, RFC 4028)
func (s *Session) retryWithMinSE(ctx context.Context, res *sip.Response) {
	minSE, ok := dialog.ParseMinSE(res)
	if !ok {
		s.HandleError(SessionInitiationFailed)
		return
	}
	s.path.SetMinSessionExpire(minSE)
	s.path.SetSessionExpire(minSE)
	s.path.IncrementCSeq()

	invite, err := s.deps.Builder.Invite(s.path, s.opts.FeatureTags, s.opts.AcceptTags, s.opts.LocalContent)
	if err != nil {
		s.HandleError(SessionInitiationFailed)
		return
	}
	s.path.SetInvite(invite)
	s.sendInvite(ctx, invite, false)
}

func (s *Session) handleInviteOK(ctx context.Context, res *sip.Response) {
	if to := res.To(); to != nil && to.Params != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			s.path.SetRemoteTag(tag)
		}
	}
	if contact := res.Contact(); contact != nil {
		s.path.SetTarget(dialog.ExtractURI(contact.Address.String()))
	}
	if route := dialog.RouteProcessing(res, true); len(route) > 0 {
		s.path.SetRoute(route)
	}
	s.path.SetRemoteContent(string(res.Body()))

	refresher := dialog.RefresherUAC
	se, timerRequested := dialog.ParseSessionExpires(res)
	if timerRequested {
		s.path.SetSessionExpire(se.Period)
		refresher = se.Refresher
	}

	s.path.SetSigEstablished()
	if err := s.deps.Signaling.SendAck(ctx, s.path); err != nil {
		s.logger.Error("cannot send ACK", zap.Error(err))
		s.HandleError(SessionInitiationFailed)
		return
	}
	s.path.SetSessionEstablished()

	if s.lifecycle.IsTerminal() {
		// прекращена во время ожидания ответа: закрываем установленный диалог
		s.sendBye(ctx)
		s.cleanup()
		return
	}
	if err := s.lifecycle.Start(); err != nil {
		s.logger.Warn("cannot start session", zap.Error(err))
		return
	}
	s.deps.Observers.SessionStarted(s.id)

	if timerRequested && s.path.SessionTimerEnabled() {
		// refresher=uac: обновляет вызывающая сторона, то есть мы
		s.timer.Start(refresher, s.path.SessionExpire())
	}
}

// Receive обрабатывает входящее приглашение: 180 Ringing, ожидание
// ответа пользователя, затем 200 OK или отказ
func (s *Session) Receive(ctx context.Context) error {
	if s.direction != Incoming {
		return ErrWrongDirection
	}
	return s.deps.Pool.Submit(func() { s.receiveIncoming(ctx) })
}

func (s *Session) receiveIncoming(ctx context.Context) {
	invite := s.path.Invite()
	if ringing, err := s.deps.Builder.Response(invite, s.path.LocalTag(), builder.StatusRinging, ""); err == nil {
		if err := s.deps.Signaling.SendResponse(ctx, ringing); err != nil {
			s.logger.Warn("cannot send 180 Ringing", zap.Error(err))
		}
	}

	status := s.WaitInvitationAnswer(ctx, s.opts.RingingPeriod)
	s.logger.Debug("invitation answered", zap.Stringer("status", status))

	switch status {
	case InvitationAccepted:
		s.acceptIncoming(ctx)
	case InvitationTimeout:
		s.rejectIncoming(ctx, builder.StatusBusyHere, CauseTimeout)
	case InvitationRejectedBusyHere:
		s.rejectIncoming(ctx, builder.StatusBusyHere, CauseUser)
	case InvitationRejectedForbidden:
		s.rejectIncoming(ctx, builder.StatusForbidden, CauseUser)
	case InvitationRejectedBySystem:
		s.rejectIncoming(ctx, builder.StatusDecline, CauseSystem)
	case InvitationRejected, InvitationRejectedDecline:
		s.rejectIncoming(ctx, builder.StatusDecline, CauseUser)
	case InvitationCancelled, InvitationDeleted:
		// обработано в ReceiveCancel или Abort
	}
}

// WaitInvitationAnswer ждет ответ пользователя не дольше timeout.
// По истечении времени приглашение считается неотвеченным
// (InvitationTimeout), при отмене ctx отклоненным системой.
func (s *Session) WaitInvitationAnswer(ctx context.Context, timeout time.Duration) InvitationStatus {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.answered:
	case <-timer.C:
		s.setAnswer(InvitationTimeout)
	case <-ctx.Done():
		s.setAnswer(InvitationRejectedBySystem)
	}
	return s.InvitationStatus()
}

// InvitationStatus текущий ответ на приглашение
func (s *Session) InvitationStatus() InvitationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer
}

// setAnswer фиксирует первый ответ на приглашение
func (s *Session) setAnswer(status InvitationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answer != InvitationNotAnswered {
		return false
	}
	s.answer = status
	close(s.answered)
	return true
}

// Accept пользователь принял приглашение
func (s *Session) Accept() error {
	if s.direction != Incoming {
		return ErrWrongDirection
	}
	if !s.setAnswer(InvitationAccepted) {
		return ErrInvalidTransition
	}
	return nil
}

// Reject пользователь отклонил приглашение. status задает код ответа:
// InvitationRejectedBusyHere 486, InvitationRejectedForbidden 403,
// остальные 603.
func (s *Session) Reject(status InvitationStatus) error {
	if s.direction != Incoming {
		return ErrWrongDirection
	}
	switch status {
	case InvitationRejectedBusyHere, InvitationRejectedForbidden, InvitationRejectedDecline, InvitationRejectedBySystem:
	default:
		status = InvitationRejected
	}
	if !s.setAnswer(status) {
		return ErrInvalidTransition
	}
	return nil
}

func (s *Session) acceptIncoming(ctx context.Context) {
	if err := s.lifecycle.Accept(); err != nil {
		s.logger.Debug("accept skipped", zap.Error(err))
		return
	}

	res, err := s.deps.Builder.Ok200Invite(s.path, s.opts.FeatureTags, s.opts.AcceptTags, s.opts.LocalContent)
	if err != nil {
		s.logger.Error("cannot build 200 OK", zap.Error(err))
		s.HandleError(SendResponseFailed)
		return
	}
	s.path.SetLocalContent(s.opts.LocalContent)
	s.path.SetSigEstablished()
	if err := s.deps.Signaling.SendResponse(ctx, res); err != nil {
		s.logger.Error("cannot send 200 OK", zap.Error(err))
		s.HandleError(SendResponseFailed)
		return
	}

	if !s.waitAck(ctx) {
		s.logger.Warn("no ACK received for INVITE")
		s.HandleError(SendResponseFailed)
		return
	}
	s.path.SetSessionEstablished()

	if err := s.lifecycle.Start(); err != nil {
		s.logger.Debug("start skipped", zap.Error(err))
		return
	}
	s.deps.Observers.SessionStarted(s.id)

	if se, ok := dialog.ParseSessionExpires(s.path.Invite()); ok && s.path.SessionTimerEnabled() {
		// роль в Session-Expires относится к вызывающей стороне
		role := dialog.RefresherUAS
		if se.Refresher == dialog.RefresherUAS {
			role = dialog.RefresherUAC
		}
		s.timer.Start(role, s.path.SessionExpire())
	}
}

func (s *Session) waitAck(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()
	select {
	case <-s.ack:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) rejectIncoming(ctx context.Context, code int, cause TerminationCause) {
	s.sendErrorResponse(ctx, s.path.Invite(), code)
	out, err := s.lifecycle.Reject(cause)
	if err != nil {
		s.logger.Debug("reject skipped", zap.Error(err))
		return
	}
	s.logger.Info("invitation rejected", zap.Stringer("reason", out.Reason))
	s.cleanup()
}

func (s *Session) sendErrorResponse(ctx context.Context, req *sip.Request, code int) {
	res, err := s.deps.Builder.Response(req, s.path.LocalTag(), code, "")
	if err != nil {
		s.logger.Error("cannot build response", logging.StatusCode(code), zap.Error(err))
		return
	}
	if err := s.deps.Signaling.SendResponse(ctx, res); err != nil {
		s.logger.Warn("cannot send response", logging.StatusCode(code), zap.Error(err))
	}
}

// ReceiveAck ACK на наш 200 OK
func (s *Session) ReceiveAck(*sip.Request) {
	select {
	case s.ack <- struct{}{}:
	default:
	}
}

// ReceiveBye удаленная сторона завершила сессию
func (s *Session) ReceiveBye(ctx context.Context, bye *sip.Request) {
	s.sendErrorResponse(ctx, bye, builder.StatusOK)
	s.timer.Stop()
	s.path.SetSessionTerminated()
	s.setAnswer(InvitationDeleted)

	if _, err := s.lifecycle.Abort(CauseRemote, s.isContentTransferred()); err == nil {
		s.deps.Observers.SessionTerminatedByRemote(s.id)
	}
	s.cleanup()
}

// ReceiveCancel удаленная сторона отменила приглашение до ответа
func (s *Session) ReceiveCancel(ctx context.Context, cancel *sip.Request) {
	s.sendErrorResponse(ctx, cancel, builder.StatusOK)
	if s.path.IsSigEstablished() {
		return
	}
	s.path.SetSessionCancelled()
	if invite := s.path.Invite(); invite != nil {
		s.sendErrorResponse(ctx, invite, builder.StatusRequestTerminated)
	}
	s.setAnswer(InvitationCancelled)

	if out, err := s.lifecycle.Reject(CauseRemote); err == nil {
		s.deps.Observers.SessionAborted(s.id, out.Reason)
	}
	s.cleanup()
}

// ReceiveReInvite обновление сессии удаленной стороной. re-INVITE без
// тела только продлевает таймер.
func (s *Session) ReceiveReInvite(ctx context.Context, req *sip.Request) {
	if !s.dialogMu.TryLock() {
		// встречный re-INVITE во время нашего запроса (RFC 3261 14.2)
		s.sendErrorResponse(ctx, req, builder.StatusRequestPending)
		return
	}
	defer s.dialogMu.Unlock()
	s.timer.ReceiveRefresh()

	var (
		res *sip.Response
		err error
	)
	if len(req.Body()) == 0 {
		res, err = s.deps.Builder.Ok200ReInvite(s.path, req)
	} else {
		s.path.SetRemoteContent(string(req.Body()))
		res, err = s.deps.Builder.Ok200ReInviteWithContent(s.path, req, s.opts.FeatureTags, s.opts.LocalContent)
	}
	if err != nil {
		s.logger.Error("cannot build re-INVITE response", zap.Error(err))
		return
	}
	s.path.SetSigEstablished()
	if err := s.deps.Signaling.SendResponse(ctx, res); err != nil {
		s.logger.Warn("cannot answer re-INVITE", zap.Error(err))
	}
}

// ReceiveUpdate обновление сессии через UPDATE
func (s *Session) ReceiveUpdate(ctx context.Context, req *sip.Request) {
	if !s.dialogMu.TryLock() {
		s.sendErrorResponse(ctx, req, builder.StatusRequestPending)
		return
	}
	defer s.dialogMu.Unlock()
	s.timer.ReceiveRefresh()
	res, err := s.deps.Builder.Ok200Update(s.path, req)
	if err != nil {
		s.logger.Error("cannot build UPDATE response", zap.Error(err))
		return
	}
	if err := s.deps.Signaling.SendResponse(ctx, res); err != nil {
		s.logger.Warn("cannot answer UPDATE", zap.Error(err))
	}
}

// Abort прекращает сессию. Состояние меняется сразу, не дожидаясь
// удаленной стороны; CANCEL или BYE отправляется в пуле, а если пул
// переполнен или закрыт, то до возврата из Abort.
func (s *Session) Abort(ctx context.Context, cause TerminationCause) error {
	out, err := s.lifecycle.Abort(cause, s.isContentTransferred())
	if err != nil {
		return err
	}
	s.deps.Observers.SessionAborted(s.id, out.Reason)
	s.timer.Stop()
	s.setAnswer(InvitationDeleted)

	if cause == CauseUser {
		s.path.SetSessionTerminatedWithReason(builder.StatusOK, reasonCallCompleted)
	} else {
		s.path.SetSessionTerminated()
	}

	if cause == CauseConnectionLost {
		// сеть недоступна, сигнализацию не отправляем
		s.cleanup()
		return nil
	}
	closeDialog := func() {
		s.closeDialog(ctx)
		s.cleanup()
	}
	if err := s.deps.Pool.Submit(closeDialog); err != nil {
		// без свободного воркера CANCEL или BYE уходит из вызывающей горутины
		s.logger.Warn("pool unavailable, closing dialog inline", zap.Error(err))
		closeDialog()
	}
	return nil
}

func (s *Session) closeDialog(ctx context.Context) {
	switch {
	case s.path.IsSigEstablished():
		s.sendBye(ctx)
	case s.direction == Outgoing:
		s.sendCancel(ctx)
	default:
		if invite := s.path.Invite(); invite != nil {
			s.sendErrorResponse(ctx, invite, builder.StatusDecline)
		}
	}
}

func (s *Session) sendBye(ctx context.Context) {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	s.path.IncrementCSeq()
	bye, err := s.deps.Builder.Bye(s.path)
	if err != nil {
		s.logger.Error("cannot build BYE", zap.Error(err))
		return
	}
	if _, err := s.deps.Signaling.SendSubsequentRequest(ctx, s.path, bye, 0); err != nil {
		s.logger.Warn("BYE failed", zap.Error(err))
	}
}

func (s *Session) sendCancel(ctx context.Context) {
	if s.path.Invite() == nil {
		return
	}
	cancel, err := s.deps.Builder.Cancel(s.path)
	if err != nil {
		s.logger.Error("cannot build CANCEL", zap.Error(err))
		return
	}
	if _, err := s.deps.Signaling.SendAndWait(ctx, cancel, 0, nil); err != nil {
		s.logger.Warn("CANCEL failed", zap.Error(err))
	}
}

// HandleError переводит сессию по коду ошибки сервиса.
// SessionInitiationCancelled ничего не меняет.
func (s *Session) HandleError(code ErrorCode) {
	out, applied, err := s.lifecycle.HandleError(code)
	if err != nil {
		s.logger.Debug("error ignored in terminal state", zap.Stringer("error", code), zap.Error(err))
		return
	}
	if !applied {
		return
	}
	switch code {
	case MediaTransferFailed, MediaStreamingFailed, MediaUploadFailed, MediaDownloadFailed, MediaSavingFailed:
		s.deps.Observers.TransferError(s.id, code)
	}
	s.deps.Metrics.RecordError(code.String())
	s.logger.Info("session failed", zap.Stringer("error", code), logging.State(out.State.String()),
		zap.Stringer("reason", out.Reason))
	s.timer.Stop()
	s.cleanup()
}

// NotifyDeliveryStatus сообщает подписчикам статус доставки сообщения
func (s *Session) NotifyDeliveryStatus(messageID string, status DeliveryStatus) {
	s.deps.Observers.DeliveryStatus(s.id, messageID, status)
}

// InviteParticipants приглашает участников в конференцию через REFER.
// Сначала отправляется один REFER со списком; если сервер его не принял,
// каждый участник приглашается отдельно. done получает результат по
// каждому участнику.
func (s *Session) InviteParticipants(ctx context.Context, participants []string, subject, contributionID string, done func([]ReferResult)) error {
	if len(participants) == 0 {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "participants", "no participants", nil)
	}
	return s.deps.Pool.Submit(func() {
		results := s.inviteParticipants(ctx, participants, subject, contributionID)
		if done != nil {
			done(results)
		}
	})
}

func (s *Session) inviteParticipants(ctx context.Context, participants []string, subject, contributionID string) []ReferResult {
	if len(participants) > 1 {
		code, err := s.referMany(ctx, participants, subject, contributionID)
		if err != nil {
			return referResults(participants, 0, err)
		}
		if code >= 200 && code < 300 {
			return referResults(participants, code, nil)
		}
		s.logger.Info("multiple REFER rejected, inviting one by one", logging.StatusCode(code))
	}

	results := make([]ReferResult, 0, len(participants))
	for _, participant := range participants {
		results = append(results, s.referOne(ctx, participant, subject, contributionID))
	}
	return results
}

func (s *Session) referMany(ctx context.Context, participants []string, subject, contributionID string) (int, error) {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	s.path.IncrementCSeq()
	req, err := s.deps.Builder.ReferToMany(s.path, participants, subject, contributionID)
	if err != nil {
		return 0, err
	}
	tc, err := s.deps.Signaling.SendSubsequentRequest(ctx, s.path, req, 0)
	if err != nil {
		return 0, err
	}
	return tc.StatusCode(), nil
}

func (s *Session) referOne(ctx context.Context, participant, subject, contributionID string) ReferResult {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	s.path.IncrementCSeq()
	req, err := s.deps.Builder.Refer(s.path, participant, subject, contributionID)
	if err != nil {
		return ReferResult{Participant: participant, Err: err}
	}
	tc, err := s.deps.Signaling.SendSubsequentRequest(ctx, s.path, req, 0)
	if err != nil {
		return ReferResult{Participant: participant, Err: err}
	}
	return ReferResult{Participant: participant, StatusCode: tc.StatusCode()}
}

func referResults(participants []string, code int, err error) []ReferResult {
	results := make([]ReferResult, len(participants))
	for i, p := range participants {
		results[i] = ReferResult{Participant: p, StatusCode: code, Err: err}
	}
	return results
}

// sendRefresh обновление сессии re-INVITE, вызывается таймером
func (s *Session) sendRefresh(ctx context.Context) (int, error) {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	s.path.IncrementCSeq()
	req, err := s.deps.Builder.ReInvite(s.path)
	if err != nil {
		return 0, err
	}
	tc, err := s.deps.Signaling.SendAndWait(ctx, req, 0, nil)
	if err != nil {
		return 0, err
	}
	code := tc.StatusCode()
	if code == builder.StatusOK {
		s.path.SetSigEstablished()
		if err := s.deps.Signaling.SendAck(ctx, s.path); err != nil {
			return code, err
		}
		s.path.SetSessionEstablished()
	}
	return code, nil
}

// sessionExpired таймер сессии истек
func (s *Session) sessionExpired() {
	if err := s.Abort(context.Background(), CauseTimeout); err != nil {
		s.logger.Debug("expire skipped", zap.Error(err))
	}
}

// cleanup освобождает ресурсы сессии при терминальном состоянии
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	s.cleaned = true
	s.mu.Unlock()

	s.timer.Stop()
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(s.id)
	}
	s.deps.Signaling.Forget(s.path.CallID())
	s.deps.Metrics.SessionEnded()
	s.logger.Debug("session released", logging.State(s.State().String()))
}
