package featuretag

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T) *sip.Request {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@ims.example.com", &uri))
	return sip.NewRequest(sip.MESSAGE, uri)
}

func TestSetDeduplicates(t *testing.T) {
	s := NewSet(OMAIM, FileTransfer, OMAIM, "", FileTransfer)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{OMAIM, FileTransfer}, s.Tags())
	assert.False(t, s.Add(OMAIM))
	assert.True(t, s.Add(GeolocPush))
	assert.True(t, s.Contains(GeolocPush))
}

func TestSetEqualIgnoresOrder(t *testing.T) {
	a := NewSet(OMAIM, ImageShare, GeolocPush)
	b := NewSet(GeolocPush, OMAIM, ImageShare)
	c := NewSet(OMAIM, ImageShare)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, (*Set)(nil).Equal(&Set{}))
}

func TestAcceptContactValue(t *testing.T) {
	assert.Equal(t, "*;+g.oma.sip-im;automata", AcceptContactValue([]string{OMAIM, SipAutomata}))
	assert.Equal(t, "*", AcceptContactValue(nil))
	assert.Nil(t, AcceptContact(nil))
}

func TestAcceptContactRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tags []string
	}{
		{"одиночный тег", []string{OMAIM}},
		{"теги со значениями", []string{OMAIM, FileTransfer, ImageShare, IPVoiceCall}},
		{"gsma расширение", []string{GSMAExtPrefix + "ext.demo", SipAutomata}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := NewSet(tt.tags...)
			header := AcceptContact(original.Tags())
			require.NotNil(t, header)

			decoded := NewSet(DecodeAcceptContactTags(header.Value())...)
			assert.True(t, original.Equal(decoded), cmp.Diff(original.Tags(), decoded.Tags()))
		})
	}
}

func TestEncodeContactTags(t *testing.T) {
	value := EncodeContactTags("<sip:alice@10.0.0.1:5060>", []string{OMAIM, FileTransfer})
	assert.Equal(t,
		`<sip:alice@10.0.0.1:5060>;+g.oma.sip-im;+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"`,
		value)

	assert.Equal(t, "<sip:alice@10.0.0.1:5060>", EncodeContactTags("<sip:alice@10.0.0.1:5060>", nil))
	assert.Equal(t, "<sip:alice@10.0.0.1:5060>", EncodeContactTags("<sip:alice@10.0.0.1:5060>", []string{"", " "}))
}

func TestContactParamsMergesLists(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{
			"два iari в одном параметре",
			[]string{ImageShare, FileTransfer, ImageShare},
			[]string{`+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is,urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"`},
		},
		{
			"порядок первого появления",
			[]string{OMAIM, GeolocPush, SipAutomata, ImageShare},
			[]string{
				OMAIM,
				`+g.3gpp.iari-ref="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.geopush,urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is"`,
				SipAutomata,
			},
		},
		{
			"тег с несколькими параметрами",
			[]string{IPVideoCall},
			[]string{`+g.3gpp.icsi-ref="urn%3Aurn-7%3A3gpp-service.ims.icsi.mmtel"`, "video"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContactParams(tt.tags))
		})
	}
}

func TestDecodeContactTags(t *testing.T) {
	req := newTestRequest(t)
	req.AppendHeader(sip.NewHeader(HeaderContact,
		EncodeContactTags("<sip:bob@10.0.0.2:5060>;expires=600", []string{OMAIM, SipAutomata, FileTransfer, ImageShare})))

	tags := DecodeContactTags(req)
	assert.ElementsMatch(t, []string{OMAIM, SipAutomata, FileTransfer, ImageShare}, tags)
	assert.Empty(t, DecodeContactTags(newTestRequest(t)))

	compact := newTestRequest(t)
	compact.AppendHeader(sip.NewHeader(HeaderContactCompact,
		`<sip:bob@10.0.0.2:5060>;+sip.instance="<urn:uuid:1>";+g.oma.sip-im`))
	assert.Equal(t, []string{OMAIM}, DecodeContactTags(compact))
}

func TestDecodeInstanceID(t *testing.T) {
	req := newTestRequest(t)
	req.AppendHeader(sip.NewHeader("Accept-Contact",
		`*;+g.oma.sip-im;+sip.instance="<urn:gsma:imei:35000000-000000-0>";pub-gruu="sip:alice@gruu.example.com"`))

	id, ok := DecodeInstanceID(req)
	require.True(t, ok)
	assert.Equal(t, "<urn:gsma:imei:35000000-000000-0>", id)

	gruu, ok := DecodePublicGruu(req)
	require.True(t, ok)
	assert.Equal(t, "sip:alice@gruu.example.com", gruu)
}

func TestDecodeCompactForm(t *testing.T) {
	req := newTestRequest(t)
	req.AppendHeader(sip.NewHeader("a", `*;+sip.instance="<urn:uuid:1234>"`))

	id, ok := DecodeInstanceID(req)
	require.True(t, ok)
	assert.Equal(t, "<urn:uuid:1234>", id)
}

func TestDecodeMalformedIsNotFound(t *testing.T) {
	values := []string{
		`+sip.instance="<urn:uuid:1>"`,
		`*;+sip.instance`,
		`*;+sip.instance="<urn:uuid:1>`,
		`*;`,
	}
	for _, v := range values {
		req := newTestRequest(t)
		req.AppendHeader(sip.NewHeader("Accept-Contact", v))
		_, ok := DecodeInstanceID(req)
		assert.False(t, ok, v)
	}

	_, ok := DecodePublicGruu(newTestRequest(t))
	assert.False(t, ok)
}

func TestSetRemoteInstanceID(t *testing.T) {
	req := newTestRequest(t)
	SetRemoteInstanceID(req, "<urn:uuid:abcd>")
	assert.Equal(t, `*;+sip.instance="<urn:uuid:abcd>"`, req.GetHeader("Accept-Contact").Value())

	req = newTestRequest(t)
	req.AppendHeader(AcceptContact([]string{OMAIM}))
	SetRemoteInstanceID(req, "<urn:uuid:abcd>")

	headers := req.GetHeaders("Accept-Contact")
	require.Len(t, headers, 1)
	assert.Equal(t, `*;+g.oma.sip-im;+sip.instance="<urn:uuid:abcd>"`, headers[0].Value())

	id, ok := DecodeInstanceID(req)
	require.True(t, ok)
	assert.Equal(t, "<urn:uuid:abcd>", id)
}

func TestSetFeatureTags(t *testing.T) {
	req := newTestRequest(t)
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@10.0.0.1:5060", &uri))
	req.AppendHeader(&sip.ContactHeader{Address: uri, Params: sip.NewParams()})

	SetFeatureTags(req, []string{OMAIM, ImageShare, FileTransfer}, []string{OMAIM, SipAutomata})

	require.Len(t, req.GetHeaders("Contact"), 1)
	contact := req.Contact()
	require.NotNil(t, contact)
	assert.Equal(t, "alice", contact.Address.User)
	assert.True(t, contact.Params.Has(OMAIM))
	iari, ok := contact.Params.Get(IARIRef)
	require.True(t, ok)
	assert.Equal(t,
		`"urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is,urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"`,
		iari)
	assert.Equal(t, "*;+g.oma.sip-im;automata", req.GetHeader("Accept-Contact").Value())
}
