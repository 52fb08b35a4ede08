package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/metrics"
	"github.com/arzzra/rcs_core/pkg/sip/builder"
	"github.com/arzzra/rcs_core/pkg/sip/sdpbody"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeTx struct {
	responses chan *sip.Response
	done      chan struct{}
	once      sync.Once
	err       error
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		responses: make(chan *sip.Response, 8),
		done:      make(chan struct{}),
	}
}

func (t *fakeTx) Responses() <-chan *sip.Response { return t.responses }
func (t *fakeTx) Done() <-chan struct{}           { return t.done }
func (t *fakeTx) Err() error                      { return t.err }
func (t *fakeTx) Terminate()                      { t.once.Do(func() { close(t.done) }) }

type fakeTransport struct {
	mu         sync.Mutex
	requests   []*sip.Request
	written    []*sip.Request
	responses  []*sip.Response
	respond    func(req *sip.Request) []*sip.Response
	requestErr error
}

func (f *fakeTransport) Request(_ context.Context, req *sip.Request) (ClientTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	tx := newFakeTx()
	if f.respond != nil {
		for _, res := range f.respond(req) {
			tx.responses <- res
		}
	}
	return tx, nil
}

func (f *fakeTransport) WriteRequest(req *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, req)
	return nil
}

func (f *fakeTransport) WriteResponse(res *sip.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, res)
	return nil
}

type fakeKeepAlive struct {
	mu      sync.Mutex
	periods []int64
}

func (k *fakeKeepAlive) SetPeriod(periodMs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.periods = append(k.periods, periodMs)
}

func (k *fakeKeepAlive) last() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.periods) == 0 {
		return -1
	}
	return k.periods[len(k.periods)-1]
}

type fakeRegistration struct {
	restarts atomic.Int32
}

func (r *fakeRegistration) Restart() { r.restarts.Inc() }

type testEnv struct {
	manager      *Manager
	transport    *fakeTransport
	keepAlive    *fakeKeepAlive
	registration *fakeRegistration
	builder      *builder.Builder
	metrics      *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b, err := builder.New(builder.Stack{
		ContactURI:        "sip:+33600000001@10.0.0.1:5060",
		UserAgent:         "rcs-core-test",
		PreferredIdentity: "sip:+33600000001@ims.example.com",
		HomeDomain:        "ims.example.com",
	})
	require.NoError(t, err)

	env := &testEnv{
		transport:    &fakeTransport{},
		keepAlive:    &fakeKeepAlive{},
		registration: &fakeRegistration{},
		builder:      b,
		metrics:      metrics.New(nil),
	}
	env.manager, err = NewManager(Config{
		Transport:       env.transport,
		Builder:         b,
		KeepAlive:       env.keepAlive,
		Registration:    env.registration,
		KeepAlivePeriod: 30 * time.Second,
		Metrics:         env.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(env.manager.Wait)
	return env
}

func newTestPath(callID string) *dialog.Path {
	return dialog.NewPath(dialog.PathConfig{
		CallID:      callID,
		Target:      "sip:+33600000002@ims.example.com",
		LocalParty:  "sip:+33600000001@ims.example.com",
		RemoteParty: "sip:+33600000002@ims.example.com",
		Route:       []string{"<sip:pcscf.ims.example.com;lr>"},
	})
}

func newTestSDP(t *testing.T) string {
	t.Helper()
	desc, err := sdpbody.NewMSRPOffer(sdpbody.OfferParams{
		Host:        "10.0.0.1",
		Port:        20000,
		Path:        "msrp://10.0.0.1:20000/tx1;tcp",
		AcceptTypes: []string{"message/cpim"},
	})
	require.NoError(t, err)
	body, err := sdpbody.Marshal(desc)
	require.NoError(t, err)
	return body
}

func respondWith(code int, mutate func(res *sip.Response)) func(req *sip.Request) []*sip.Response {
	return func(req *sip.Request) []*sip.Response {
		res := sip.NewResponseFromRequest(req, code, builder.StatusText(code), nil)
		if mutate != nil {
			mutate(res)
		}
		return []*sip.Response{res}
	}
}

func withKeep(value string) func(res *sip.Response) {
	return func(res *sip.Response) {
		via := res.Via()
		if via.Params == nil {
			via.Params = sip.NewParams()
		}
		via.Params.Add("keep", value)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestNewManagerRequiresTransport(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err)
	assert.True(t, dialog.IsPayload(err))
}

func TestTimeoutSettings(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, DefaultTimeout, env.manager.Timeout())

	env.manager.SetTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, env.manager.Timeout())

	env.manager.SetTimeout(0)
	assert.Equal(t, DefaultTimeout, env.manager.Timeout())
}

func TestSendAndWaitFinalResponse(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusOK, nil)

	req, err := env.builder.Message(newTestPath("msg-1"), "", "text/plain", []byte("hello"))
	require.NoError(t, err)

	tc, err := env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.NoError(t, err)
	assert.True(t, tc.IsResponse())
	assert.Equal(t, builder.StatusOK, tc.StatusCode())
	assert.Same(t, req, tc.Request())
	assert.NoError(t, tc.Err())
	assert.Equal(t, int32(0), env.registration.restarts.Load())
	// MESSAGE не влияет на keep-alive
	assert.Equal(t, int64(-1), env.keepAlive.last())
}

func TestProvisionalResponsesReachCallback(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = func(req *sip.Request) []*sip.Response {
		return []*sip.Response{
			sip.NewResponseFromRequest(req, builder.StatusRinging, "Ringing", nil),
			sip.NewResponseFromRequest(req, builder.StatusOK, "OK", nil),
		}
	}

	req, err := env.builder.Invite(newTestPath("inv-1"), nil, nil, newTestSDP(t))
	require.NoError(t, err)

	var provisional []int
	var mu sync.Mutex
	tc, err := env.manager.SendAndWait(testContext(t), req, time.Second, func(res *sip.Response) {
		mu.Lock()
		provisional = append(provisional, int(res.StatusCode))
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, builder.StatusOK, tc.StatusCode())
	require.NotNil(t, tc.LastProvisional())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{builder.StatusRinging}, provisional)
}

func TestKeepAliveNegotiation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(res *sip.Response)
		want   int64
	}{
		{name: "keep=45", mutate: withKeep("45"), want: 45000},
		{name: "keep=0", mutate: withKeep("0"), want: 30000},
		{name: "keep negative", mutate: withKeep("-5"), want: 30000},
		{name: "keep not numeric", mutate: withKeep("abc"), want: 30000},
		{name: "keep absent", mutate: nil, want: 30000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.transport.respond = respondWith(builder.StatusOK, tt.mutate)

			req, err := env.builder.Register(newTestPath("reg-"+tt.name), nil, time.Hour, "")
			require.NoError(t, err)

			_, err = env.manager.SendAndWait(testContext(t), req, time.Second, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.keepAlive.last())
		})
	}
}

func TestRegistrationLostWithoutCallback(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusForbidden, nil)

	req, err := env.builder.Message(newTestPath("msg-403"), "", "text/plain", []byte("hello"))
	require.NoError(t, err)

	tc, err := env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.Error(t, err)
	require.NotNil(t, tc)
	assert.True(t, errors.Is(err, dialog.ErrNotRegistered))
	assert.Equal(t, builder.StatusForbidden, tc.StatusCode())

	env.manager.Wait()
	assert.Equal(t, int32(1), env.registration.restarts.Load())
}

func TestRegistrationLostInviteStillNegotiatesKeepAlive(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusForbidden, withKeep("20"))

	path := newTestPath("invite-403-keep")
	req, err := env.builder.Invite(path, nil, nil, newTestSDP(t))
	require.NoError(t, err)

	_, err = env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.ErrorIs(t, err, dialog.ErrNotRegistered)
	assert.Equal(t, int64(20000), env.keepAlive.last())

	env.manager.Wait()
	assert.Equal(t, int32(1), env.registration.restarts.Load())
}

func TestRegistrationLostWithCallback(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusForbidden, nil)

	req, err := env.builder.Invite(newTestPath("inv-403"), nil, nil, newTestSDP(t))
	require.NoError(t, err)

	_, err = env.manager.SendAndWait(testContext(t), req, time.Second, func(*sip.Response) {})
	require.NoError(t, err)

	env.manager.Wait()
	assert.Equal(t, int32(1), env.registration.restarts.Load())
}

func TestForbiddenWithWarningKeepsRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = func(req *sip.Request) []*sip.Response {
		res, err := env.builder.Response(req, "", builder.StatusForbidden, "blocked by policy")
		require.NoError(t, err)
		return []*sip.Response{res}
	}

	req, err := env.builder.Message(newTestPath("msg-warn"), "", "text/plain", []byte("hello"))
	require.NoError(t, err)

	tc, err := env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, builder.StatusForbidden, tc.StatusCode())

	env.manager.Wait()
	assert.Equal(t, int32(0), env.registration.restarts.Load())
}

func TestForbiddenOnRegisterDoesNotRestart(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusForbidden, nil)

	req, err := env.builder.Register(newTestPath("reg-403"), nil, time.Hour, "")
	require.NoError(t, err)

	_, err = env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.NoError(t, err)

	env.manager.Wait()
	assert.Equal(t, int32(0), env.registration.restarts.Load())
}

func TestSubsequentRequestEscalatesRegistrationLoss(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusForbidden, nil)

	path := newTestPath("bye-403")
	path.SetRemoteTag("remote-tag")
	req, err := env.builder.Bye(path)
	require.NoError(t, err)

	_, err = env.manager.SendSubsequentRequest(testContext(t), path, req, time.Second)
	require.Error(t, err)
	assert.True(t, dialog.IsPayload(err))
	assert.True(t, errors.Is(err, dialog.ErrNotRegistered))

	env.manager.Wait()
	assert.Equal(t, int32(1), env.registration.restarts.Load())
}

func TestSubsequentRequestRejectsForeignCallID(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.builder.Bye(newTestPath("other"))
	require.NoError(t, err)

	_, err = env.manager.SendSubsequentRequest(testContext(t), newTestPath("mine"), req, time.Second)
	require.Error(t, err)
	assert.True(t, dialog.IsPayload(err))
	assert.Empty(t, env.transport.requests)
}

func TestCSeqMustIncrease(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusOK, nil)
	ctx := testContext(t)

	path := newTestPath("cseq-1")
	first, err := env.builder.Message(path, "", "text/plain", []byte("one"))
	require.NoError(t, err)
	_, err = env.manager.SendAndWait(ctx, first, time.Second, nil)
	require.NoError(t, err)

	again, err := env.builder.Message(path, "", "text/plain", []byte("two"))
	require.NoError(t, err)
	_, err = env.manager.SendAndWait(ctx, again, time.Second, nil)
	require.Error(t, err)
	assert.Equal(t, dialog.CodeCSeqOrder, dialog.GetErrorCode(err))
	assert.Len(t, env.transport.requests, 1)

	path.IncrementCSeq()
	next, err := env.builder.Message(path, "", "text/plain", []byte("three"))
	require.NoError(t, err)
	_, err = env.manager.SendAndWait(ctx, next, time.Second, nil)
	require.NoError(t, err)

	// после Forget счетчик диалога начинается заново
	env.manager.Forget("cseq-1")
	_, err = env.manager.SendAndWait(ctx, first, time.Second, nil)
	require.NoError(t, err)
}

func TestCancelReusesInviteCSeq(t *testing.T) {
	env := newTestEnv(t)
	env.transport.respond = respondWith(builder.StatusOK, nil)
	ctx := testContext(t)

	path := newTestPath("cancel-1")
	invite, err := env.builder.Invite(path, nil, nil, newTestSDP(t))
	require.NoError(t, err)
	path.SetInvite(invite)
	_, err = env.manager.SendAndWait(ctx, invite, time.Second, nil)
	require.NoError(t, err)

	cancel, err := env.builder.Cancel(path)
	require.NoError(t, err)
	_, err = env.manager.SendAndWait(ctx, cancel, time.Second, nil)
	require.NoError(t, err)
}

func TestTimeout(t *testing.T) {
	env := newTestEnv(t)

	req, err := env.builder.Options(newTestPath("opt-timeout"), nil)
	require.NoError(t, err)

	tc, err := env.manager.SendAndWait(testContext(t), req, 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, dialog.IsTimeout(err))
	require.NotNil(t, tc)
	assert.False(t, tc.IsResponse())
	assert.Equal(t, 0, tc.StatusCode())
}

func TestTransportError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.requestErr = errors.New("connection refused")

	req, err := env.builder.Options(newTestPath("opt-err"), nil)
	require.NoError(t, err)

	tc, err := env.manager.SendAndWait(testContext(t), req, time.Second, nil)
	require.Error(t, err)
	assert.Nil(t, tc)
	assert.True(t, dialog.IsNetwork(err))
	assert.True(t, dialog.IsRetryable(err))
}

func TestSendAckAndResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	path := newTestPath("ack-1")
	path.SetRemoteTag("remote-tag")
	require.NoError(t, env.manager.SendAck(ctx, path))
	require.Len(t, env.transport.written, 1)
	assert.Equal(t, sip.ACK, env.transport.written[0].Method)

	req, err := env.builder.Options(path, nil)
	require.NoError(t, err)
	res, err := env.builder.Ok200Options(req, nil, "")
	require.NoError(t, err)
	require.NoError(t, env.manager.SendResponse(ctx, res))
	require.Len(t, env.transport.responses, 1)

	assert.Error(t, env.manager.SendResponse(ctx, nil))
}

func TestSendAckWithoutBuilder(t *testing.T) {
	m, err := NewManager(Config{Transport: &fakeTransport{}})
	require.NoError(t, err)
	err = m.SendAck(context.Background(), newTestPath("x"))
	assert.True(t, dialog.IsPayload(err))
}
