// Package transaction отправляет SIP запросы и ждет ответы с таймаутом,
// обнаруживает потерю регистрации и согласует период keep-alive по
// параметру keep верхнего Via (RFC 6223).
package transaction

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/logging"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout время ожидания ответа по умолчанию
	DefaultTimeout = 30 * time.Second
	// DefaultKeepAlivePeriod период keep-alive, если сеть не прислала keep
	DefaultKeepAlivePeriod = 30 * time.Second

	statusForbidden = 403
)

// ClientTransaction клиентская транзакция транспорта.
// sip.ClientTransaction из sipgo удовлетворяет этому интерфейсу.
type ClientTransaction interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
	Err() error
	Terminate()
}

// Transport отправка сообщений в сеть
type Transport interface {
	// Request открывает клиентскую транзакцию
	Request(ctx context.Context, req *sip.Request) (ClientTransaction, error)
	// WriteRequest отправляет запрос вне транзакции (ACK на 2xx)
	WriteRequest(req *sip.Request) error
	// WriteResponse отправляет ответ на входящий запрос
	WriteResponse(res *sip.Response) error
}

// KeepAliveManager управляет периодом NAT keep-alive
type KeepAliveManager interface {
	SetPeriod(periodMs int64)
}

// RegistrationManager перезапускает регистрацию
type RegistrationManager interface {
	Restart()
}

// Config параметры менеджера
type Config struct {
	Transport    Transport
	Builder      *builder.Builder
	KeepAlive    KeepAliveManager
	Registration RegistrationManager

	// Timeout ожидание ответа по умолчанию, 0 означает DefaultTimeout
	Timeout time.Duration
	// KeepAlivePeriod период keep-alive без параметра keep
	KeepAlivePeriod time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Manager менеджер SIP транзакций
type Manager struct {
	transport    Transport
	builder      *builder.Builder
	keepAlive    KeepAliveManager
	registration RegistrationManager

	timeout         atomic.Duration
	keepAlivePeriod time.Duration

	mu       sync.Mutex
	lastCSeq map[string]uint32

	restarting atomic.Bool
	restartWG  sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewManager создает менеджер транзакций
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "transport", "transport is required", nil)
	}
	m := &Manager{
		transport:       cfg.Transport,
		builder:         cfg.Builder,
		keepAlive:       cfg.KeepAlive,
		registration:    cfg.Registration,
		keepAlivePeriod: cfg.KeepAlivePeriod,
		lastCSeq:        make(map[string]uint32),
		logger:          logging.Named(cfg.Logger, "transaction"),
		metrics:         cfg.Metrics,
	}
	if m.keepAlivePeriod <= 0 {
		m.keepAlivePeriod = DefaultKeepAlivePeriod
	}
	m.SetTimeout(cfg.Timeout)
	return m, nil
}

// SetTimeout меняет таймаут по умолчанию для всех последующих запросов
func (m *Manager) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m.timeout.Store(timeout)
}

// Timeout текущий таймаут по умолчанию
func (m *Manager) Timeout() time.Duration {
	return m.timeout.Load()
}

// SetRegistrationManager подключает менеджер регистрации после создания.
// Регистратор сам отправляет запросы через Manager.
func (m *Manager) SetRegistrationManager(r RegistrationManager) {
	m.mu.Lock()
	m.registration = r
	m.mu.Unlock()
}

// SetKeepAliveManager подключает менеджер keep-alive
func (m *Manager) SetKeepAliveManager(k KeepAliveManager) {
	m.mu.Lock()
	m.keepAlive = k
	m.mu.Unlock()
}

// SendAndWait отправляет запрос и ждет финальный ответ не дольше timeout
// (0 означает таймаут по умолчанию). Каждый 1xx передается onProvisional.
//
// По таймауту возвращается контекст и ошибка таймаута: транзакция
// продолжает жить, ожидание можно продолжить через Context.WaitResponse.
// 403 без Warning на запрос кроме REGISTER запускает перерегистрацию;
// без onProvisional это возвращается как ошибка ErrNotRegistered.
func (m *Manager) SendAndWait(ctx context.Context, req *sip.Request, timeout time.Duration, onProvisional ProvisionalHandler) (*Context, error) {
	tc, err := m.send(ctx, req, onProvisional)
	if err != nil {
		return nil, err
	}
	res, err := m.wait(tc, timeout)
	if err != nil {
		return tc, err
	}

	if req.Method == sip.INVITE || req.Method == sip.REGISTER {
		m.updateKeepAlive(res)
	}
	if req.Method != sip.REGISTER && m.registrationLost(res) {
		m.restartRegistration(req)
		if onProvisional == nil {
			return tc, dialog.ErrRegistrationLost(req.Method, callIDOf(req))
		}
	}
	return tc, nil
}

// SendSubsequentRequest отправляет запрос внутри диалога path.
// 403 без Warning всегда возвращается как ErrNotRegistered.
func (m *Manager) SendSubsequentRequest(ctx context.Context, path *dialog.Path, req *sip.Request, timeout time.Duration) (*Context, error) {
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	if id := callIDOf(req); id != path.CallID() {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "Call-ID", "request does not belong to dialog", nil).
			WithCallID(path.CallID()).
			WithField("request_call_id", id)
	}

	tc, err := m.send(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	res, err := m.wait(tc, timeout)
	if err != nil {
		return tc, err
	}
	if m.registrationLost(res) {
		m.restartRegistration(req)
		return tc, dialog.ErrRegistrationLost(req.Method, path.CallID())
	}
	return tc, nil
}

// SendAck отправляет ACK на 2xx к INVITE диалога path
func (m *Manager) SendAck(ctx context.Context, path *dialog.Path) error {
	if m.builder == nil {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "builder", "message builder is not configured", nil)
	}
	ack, err := m.builder.Ack(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dialog.NewNetworkError("send ACK", err)
	}
	if err := m.transport.WriteRequest(ack); err != nil {
		m.metrics.RecordError(dialog.ErrorCategoryNetwork.String())
		return dialog.NewNetworkError("send ACK", err).WithCallID(path.CallID())
	}
	m.logger.Debug("ACK sent", logging.CallID(path.CallID()), logging.CSeq(path.CSeq()))
	return nil
}

// SendResponse отправляет ответ на входящий запрос
func (m *Manager) SendResponse(ctx context.Context, res *sip.Response) error {
	if res == nil {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "response", "response is nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return dialog.NewNetworkError("send response", err)
	}
	if err := m.transport.WriteResponse(res); err != nil {
		m.metrics.RecordError(dialog.ErrorCategoryNetwork.String())
		return dialog.NewNetworkError("send response", err)
	}
	m.logger.Debug("response sent", logging.StatusCode(int(res.StatusCode)))
	return nil
}

// Forget удаляет учет CSeq завершенного диалога
func (m *Manager) Forget(callID string) {
	m.mu.Lock()
	delete(m.lastCSeq, callID)
	m.mu.Unlock()
}

// Wait ждет завершения запущенных перерегистраций
func (m *Manager) Wait() {
	m.restartWG.Wait()
}

func (m *Manager) send(ctx context.Context, req *sip.Request, onProvisional ProvisionalHandler) (*Context, error) {
	if req == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "request", "request is nil", nil)
	}
	if err := m.checkCSeq(req); err != nil {
		m.metrics.RecordError(dialog.ErrorCategoryState.String())
		return nil, err
	}

	tx, err := m.transport.Request(ctx, req)
	if err != nil {
		m.metrics.RecordFailure(string(req.Method), metrics.ResultTransport)
		m.metrics.RecordError(dialog.ErrorCategoryNetwork.String())
		m.logger.Warn("request failed", logging.Method(string(req.Method)),
			logging.CallID(callIDOf(req)), zap.Error(err))
		return nil, dialog.NewNetworkError("send "+string(req.Method), err).
			WithCallID(callIDOf(req)).
			WithMethod(req.Method)
	}

	tc := newContext(req, tx, onProvisional)
	go tc.run(ctx)

	m.logger.Debug("request sent", logging.Method(string(req.Method)), logging.CallID(callIDOf(req)))
	return tc, nil
}

func (m *Manager) wait(tc *Context, timeout time.Duration) (*sip.Response, error) {
	if timeout <= 0 {
		timeout = m.Timeout()
	}
	req := tc.Request()
	method := string(req.Method)

	res, err := tc.WaitResponse(timeout)
	if err != nil {
		result := metrics.ResultTransport
		if dialog.IsTimeout(err) {
			result = metrics.ResultTimeout
		}
		m.metrics.RecordFailure(method, result)
		m.logger.Info("no final response", logging.Method(method),
			logging.CallID(callIDOf(req)), logging.Elapsed(tc.Elapsed()), zap.Error(err))
		return nil, err
	}

	m.metrics.RecordResponse(method, int(res.StatusCode), tc.Elapsed())
	m.logger.Debug("response received", logging.Method(method), logging.CallID(callIDOf(req)),
		logging.StatusCode(int(res.StatusCode)), logging.Elapsed(tc.Elapsed()))
	return res, nil
}

// checkCSeq CSeq исходящих запросов диалога строго возрастает.
// ACK и CANCEL повторяют номер INVITE.
func (m *Manager) checkCSeq(req *sip.Request) error {
	if req.Method == sip.ACK || req.Method == sip.CANCEL {
		return nil
	}
	cseq := req.CSeq()
	if cseq == nil {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "CSeq", "request has no CSeq", nil).
			WithMethod(req.Method)
	}
	callID := callIDOf(req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastCSeq[callID]; ok && cseq.SeqNo <= last {
		return dialog.ErrCSeqNotIncreasing(callID, cseq.SeqNo, last).WithMethod(req.Method)
	}
	m.lastCSeq[callID] = cseq.SeqNo
	return nil
}

// registrationLost 403 без Warning означает, что сеть забыла регистрацию
func (m *Manager) registrationLost(res *sip.Response) bool {
	return res != nil && res.StatusCode == statusForbidden && res.GetHeader(builder.HeaderWarning) == nil
}

// restartRegistration перезапускает регистрацию асинхронно. Пока
// перезапуск выполняется, повторные 403 его не дублируют.
func (m *Manager) restartRegistration(req *sip.Request) {
	m.metrics.RegistrationLost()
	m.logger.Warn("registration lost, restarting",
		logging.Method(string(req.Method)), logging.CallID(callIDOf(req)))

	m.mu.Lock()
	registration := m.registration
	m.mu.Unlock()
	if registration == nil {
		return
	}
	if !m.restarting.CompareAndSwap(false, true) {
		return
	}
	m.restartWG.Add(1)
	go func() {
		defer m.restartWG.Done()
		defer m.restarting.Store(false)
		registration.Restart()
	}()
}

// updateKeepAlive keep=N (секунды) в верхнем Via ответа задает период,
// иначе используется период из настроек
func (m *Manager) updateKeepAlive(res *sip.Response) {
	m.mu.Lock()
	keepAlive := m.keepAlive
	m.mu.Unlock()
	if keepAlive == nil {
		return
	}

	if keep, ok := viaKeep(res); ok {
		keepAlive.SetPeriod(keep * 1000)
		m.metrics.KeepAliveUpdated(metrics.KeepAliveNegotiated)
		m.logger.Debug("keep-alive period negotiated", zap.Int64("keep_s", keep))
		return
	}
	keepAlive.SetPeriod(m.keepAlivePeriod.Milliseconds())
	m.metrics.KeepAliveUpdated(metrics.KeepAliveDefault)
}

// viaKeep положительное значение keep верхнего Via
func viaKeep(res *sip.Response) (int64, bool) {
	via := res.Via()
	if via == nil || via.Params == nil {
		return 0, false
	}
	value, ok := via.Params.Get("keep")
	if !ok || value == "" {
		return 0, false
	}
	keep, err := strconv.ParseInt(value, 10, 64)
	if err != nil || keep <= 0 {
		return 0, false
	}
	return keep, true
}
