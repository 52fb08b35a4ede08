package dialog

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURI(t *testing.T, s string) sip.Uri {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri(s, &uri))
	return uri
}

func newIncomingInvite(t *testing.T) *sip.Request {
	t.Helper()
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:alice@ims.example.com"))
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "10.0.0.2",
		Port:            5060,
		Params:          sip.NewParams().Add("branch", GenerateBranch()),
	})
	req.AppendHeader(sip.NewHeader("Record-Route", "<sip:p1.example.com;lr>"))
	req.AppendHeader(sip.NewHeader("Record-Route", "<sip:p2.example.com;lr>, <sip:p3.example.com;lr>"))
	req.AppendHeader(&sip.FromHeader{
		Address: mustURI(t, "sip:bob@ims.example.com"),
		Params:  sip.NewParams().Add("tag", "remote-tag"),
	})
	req.AppendHeader(&sip.ToHeader{
		Address: mustURI(t, "sip:alice@ims.example.com"),
		Params:  sip.NewParams(),
	})
	callID := sip.CallIDHeader("call-1@10.0.0.2")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 7, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: mustURI(t, "sip:bob@10.0.0.2:5060")})
	req.SetBody([]byte("v=0\r\n"))
	return req
}

func TestNewPathDefaults(t *testing.T) {
	p := NewPath(PathConfig{
		CallID:      "abc",
		Target:      `"Bob" <sip:bob@example.com>;tag=1`,
		LocalParty:  "sip:alice@example.com",
		RemoteParty: "sip:bob@example.com",
	})

	assert.Equal(t, "abc", p.CallID())
	assert.Equal(t, uint32(1), p.CSeq())
	assert.NotEmpty(t, p.LocalTag())
	assert.Equal(t, "sip:bob@example.com", p.Target())
	code, phrase := p.TerminationReason()
	assert.Equal(t, NoReasonCode, code)
	assert.Empty(t, phrase)
	assert.False(t, p.IsSigEstablished())
	assert.False(t, p.IsSessionEstablished())
	assert.False(t, p.IsSessionCancelled())
	assert.False(t, p.IsSessionTerminated())
}

func TestPathCSeqStrictlyIncreasing(t *testing.T) {
	p := NewPath(PathConfig{CallID: "abc", CSeq: 1})

	const workers = 8
	const perWorker = 50
	seen := make(chan uint32, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seen <- p.IncrementCSeq()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint32]struct{})
	for v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, workers*perWorker)
	assert.Equal(t, uint32(1+workers*perWorker), p.CSeq())
}

func TestPathMinExpireAdjustment(t *testing.T) {
	registry := NewMinExpireRegistry()

	p := NewPath(PathConfig{SessionExpire: 120 * time.Second, MinExpire: registry})
	assert.Equal(t, 120*time.Second, p.SessionExpire())

	p.SetMinSessionExpire(600 * time.Second)
	stored, ok := registry.Get()
	require.True(t, ok)
	assert.Equal(t, 600*time.Second, stored)

	p = NewPath(PathConfig{SessionExpire: 120 * time.Second, MinExpire: registry})
	assert.Equal(t, 600*time.Second, p.SessionExpire())
	assert.True(t, p.SessionTimerEnabled())

	// ниже порога RFC 4028 значение не трогаем
	p = NewPath(PathConfig{SessionExpire: 30 * time.Second, MinExpire: registry})
	assert.Equal(t, 30*time.Second, p.SessionExpire())
	assert.False(t, p.SessionTimerEnabled())
}

func TestRouteProcessing(t *testing.T) {
	invite := newIncomingInvite(t)

	assert.Equal(t, []string{
		"<sip:p1.example.com;lr>",
		"<sip:p2.example.com;lr>",
		"<sip:p3.example.com;lr>",
	}, RouteProcessing(invite, false))

	assert.Equal(t, []string{
		"<sip:p3.example.com;lr>",
		"<sip:p2.example.com;lr>",
		"<sip:p1.example.com;lr>",
	}, RouteProcessing(invite, true))

	empty := sip.NewRequest(sip.OPTIONS, mustURI(t, "sip:bob@example.com"))
	assert.Empty(t, RouteProcessing(empty, false))
}

func TestNewTerminatingPath(t *testing.T) {
	invite := newIncomingInvite(t)
	p := NewTerminatingPath(invite, 1800*time.Second, nil)

	assert.Equal(t, "call-1@10.0.0.2", p.CallID())
	assert.Equal(t, uint32(7), p.CSeq())
	assert.Equal(t, "remote-tag", p.RemoteTag())
	assert.Contains(t, p.Target(), "bob@10.0.0.2")
	assert.Contains(t, p.LocalParty(), "alice@ims.example.com")
	assert.Contains(t, p.RemoteParty(), "bob@ims.example.com")
	assert.Len(t, p.Route(), 3)
	assert.Same(t, invite, p.Invite())
	assert.Equal(t, "v=0\r\n", p.RemoteContent())
}

func TestPathTerminationReason(t *testing.T) {
	p := NewPath(PathConfig{CallID: "abc"})
	p.SetSessionTerminatedWithReason(480, "Temporarily Unavailable")

	assert.True(t, p.IsSessionTerminated())
	code, phrase := p.TerminationReason()
	assert.Equal(t, 480, code)
	assert.Equal(t, "Temporarily Unavailable", phrase)

	p.SetSessionTerminated()
	code, _ = p.TerminationReason()
	assert.Equal(t, NoReasonCode, code)
}

func TestPathRouteIsCopied(t *testing.T) {
	route := []string{"<sip:p1;lr>"}
	p := NewPath(PathConfig{Route: route})
	route[0] = "changed"
	assert.Equal(t, []string{"<sip:p1;lr>"}, p.Route())

	got := p.Route()
	got[0] = "changed"
	assert.Equal(t, []string{"<sip:p1;lr>"}, p.Route())
}

func TestExtractURI(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"sip:bob@example.com", "sip:bob@example.com"},
		{"<sip:bob@example.com>", "sip:bob@example.com"},
		{`"Bob" <tel:+33600000001>;tag=1`, "tel:+33600000001"},
		{"  sip:bob@example.com;transport=tcp ", "sip:bob@example.com;transport=tcp"},
		{"<sip:broken", "sip:broken"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, ExtractURI(tt.in), tt.in)
	}
}

func TestParseSessionExpires(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@example.com"))
	_, ok := ParseSessionExpires(req)
	assert.False(t, ok)
	assert.Equal(t, RefresherUAC, SessionTimerRefresher(req))

	req.AppendHeader(sip.NewHeader("Session-Expires", "1800;refresher=UAS"))
	se, ok := ParseSessionExpires(req)
	require.True(t, ok)
	assert.Equal(t, 1800*time.Second, se.Period)
	assert.Equal(t, RefresherUAS, se.Refresher)

	compact := sip.NewRequest(sip.UPDATE, mustURI(t, "sip:bob@example.com"))
	compact.AppendHeader(sip.NewHeader("x", "90"))
	se, ok = ParseSessionExpires(compact)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, se.Period)
	assert.Equal(t, RefresherUAC, se.Refresher)

	bad := sip.NewRequest(sip.UPDATE, mustURI(t, "sip:bob@example.com"))
	bad.AppendHeader(sip.NewHeader("Session-Expires", "soon"))
	_, ok = ParseSessionExpires(bad)
	assert.False(t, ok)
}

func TestParseMinSE(t *testing.T) {
	res := sip.NewResponseFromRequest(newIncomingInvite(t), 422, "Session Interval Too Small", nil)
	_, ok := ParseMinSE(res)
	assert.False(t, ok)

	res.AppendHeader(sip.NewHeader("Min-SE", "600"))
	d, ok := ParseMinSE(res)
	require.True(t, ok)
	assert.Equal(t, 600*time.Second, d)
}

func TestHeaderLookup(t *testing.T) {
	req := sip.NewRequest(sip.UPDATE, mustURI(t, "sip:bob@example.com"))
	req.AppendHeader(sip.NewHeader("x", "120"))
	res := sip.NewResponseFromRequest(newIncomingInvite(t), 422, "Session Interval Too Small", nil)
	res.AppendHeader(sip.NewHeader("Min-SE", "600"))

	var msg sip.Message = req
	h := Header(msg, HeaderSessionExpires, HeaderSessionExpiresCompact)
	require.NotNil(t, h)
	assert.Equal(t, "120", h.Value())
	assert.Nil(t, Header(msg, HeaderMinSE))

	msg = res
	require.NotNil(t, Header(msg, HeaderMinSE))
	assert.Equal(t, "600", Header(msg, HeaderMinSE).Value())
	assert.Nil(t, Header(nil, HeaderMinSE))
}

func TestToTag(t *testing.T) {
	invite := newIncomingInvite(t)
	assert.Empty(t, ToTag(invite))

	res := sip.NewResponseFromRequest(invite, 200, "OK", nil)
	res.To().Params.Add("tag", "local-1")
	assert.Equal(t, "local-1", ToTag(res))
	assert.Empty(t, ToTag(nil))
}

func TestErrorTaxonomy(t *testing.T) {
	cause := fmt.Errorf("bad uri")
	payload := NewPayloadError(CodeInvalidURI, "sip::bad", "cannot parse request uri", cause)

	assert.True(t, IsPayload(payload))
	assert.False(t, IsNetwork(payload))
	assert.ErrorIs(t, payload, cause)
	assert.Contains(t, payload.Error(), "sip::bad")
	assert.Equal(t, CodeInvalidURI, GetErrorCode(payload))

	wrapped := fmt.Errorf("send: %w", NewNetworkError("write", errors.New("connection reset")))
	assert.True(t, IsNetwork(wrapped))
	assert.True(t, IsRetryable(wrapped))

	lost := ErrRegistrationLost(sip.BYE, "abc")
	assert.True(t, IsPayload(lost))
	assert.ErrorIs(t, lost, ErrNotRegistered)
	assert.False(t, IsRetryable(lost))

	timeout := ErrTransactionTimeout(sip.INVITE, time.Second)
	assert.True(t, IsTimeout(timeout))
	assert.Empty(t, GetErrorCode(errors.New("plain")))
}

func TestGenerators(t *testing.T) {
	assert.NotEqual(t, GenerateTag(), GenerateTag())
	assert.Len(t, GenerateTag(), 16)
	assert.Contains(t, GenerateCallID("10.0.0.1"), "@10.0.0.1")
	assert.Regexp(t, `^z9hG4bK[0-9a-f]{32}$`, GenerateBranch())
	assert.Equal(t, "Id_1700000000123", GenerateListID(time.UnixMilli(1700000000123)))
}
