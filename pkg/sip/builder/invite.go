package builder

import (
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/sip/featuretag"
	"github.com/arzzra/rcs_core/pkg/sip/multipart"
	"github.com/arzzra/rcs_core/pkg/sip/sdpbody"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// Invite создает исходный INVITE с SDP предложением
func (b *Builder) Invite(path *dialog.Path, tags, acceptTags []string, sdp string) (*sip.Request, error) {
	if _, err := sdpbody.Validate(sdp); err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "sdp", "invalid sdp offer", err).
			WithMethod(sip.INVITE)
	}
	return b.invite(path, tags, acceptTags, sdpbody.ContentType, sdp)
}

// MultipartInvite создает INVITE с телом multipart/mixed. Тело должно
// содержать часть application/sdp.
func (b *Builder) MultipartInvite(path *dialog.Path, tags, acceptTags []string, body, boundary string) (*sip.Request, error) {
	if boundary == "" {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "boundary", "empty multipart boundary", nil).
			WithMethod(sip.INVITE)
	}
	parts, err := multipart.Parse(body, boundary)
	if err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "body", "invalid multipart body", err).
			WithMethod(sip.INVITE)
	}
	sdp, ok := parts.Part(sdpbody.ContentType)
	if !ok {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "body", "multipart body has no sdp part", nil).
			WithMethod(sip.INVITE)
	}
	if _, err := sdpbody.Validate(sdp); err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "sdp", "invalid sdp offer", err).
			WithMethod(sip.INVITE)
	}
	return b.invite(path, tags, acceptTags, multipart.ContentType(boundary), body)
}

func (b *Builder) invite(path *dialog.Path, tags, acceptTags []string, contentType, body string) (*sip.Request, error) {
	req, err := b.newRequest(sip.INVITE, path, tagsInitial, true)
	if err != nil {
		return nil, err
	}
	req.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(req, tags, acceptTags)
	b.addAllow(req)
	b.addRoute(req, path.Route())
	b.addPreferredIdentity(req)
	b.addUserAgent(req)
	b.addSessionTimer(req, path)
	setBody(req, contentType, body)

	b.logger.Debug("invite built",
		zap.String("call_id", path.CallID()),
		zap.Strings("tags", tags),
		zap.Int("content_length", len(body)))
	return req, nil
}

// ReInvite создает re-INVITE без тела для обновления сессии.
// Contact, Accept-Contact, Route, P-Preferred-Identity и User-Agent
// переносятся из исходного INVITE, если его отправляла локальная сторона.
// CSeq берется из path, вызывающий увеличивает его заранее.
func (b *Builder) ReInvite(path *dialog.Path) (*sip.Request, error) {
	first, err := b.firstInvite(path)
	if err != nil {
		return nil, err
	}
	req, err := b.newRequest(sip.INVITE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}

	if isLocalInvite(path, first) {
		if !copyHeader(first, req, "Contact") {
			req.AppendHeader(b.Contact(nil))
		}
		copyHeader(first, req, featuretag.HeaderAcceptContact)
		b.addAllow(req)
		if !copyHeader(first, req, HeaderRoute) {
			b.addRoute(req, path.Route())
		}
		copyHeader(first, req, HeaderPreferredIdentity)
		if !copyHeader(first, req, HeaderUserAgent) {
			b.addUserAgent(req)
		}
	} else {
		req.AppendHeader(b.Contact(nil))
		b.addAllow(req)
		b.addRoute(req, path.Route())
		b.addPreferredIdentity(req)
		b.addUserAgent(req)
	}
	b.addSessionTimer(req, path)
	featuretag.SetRemoteInstanceID(req, path.RemoteSipInstance())
	setBody(req, "", "")
	return req, nil
}

// ReInviteWithContent создает re-INVITE с новым SDP и заново
// сформированными Contact и тегами возможностей
func (b *Builder) ReInviteWithContent(path *dialog.Path, tags []string, sdp string) (*sip.Request, error) {
	first, err := b.firstInvite(path)
	if err != nil {
		return nil, err
	}
	if _, err := sdpbody.Validate(sdp); err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "sdp", "invalid sdp offer", err).
			WithMethod(sip.INVITE).WithCallID(path.CallID())
	}
	req, err := b.newRequest(sip.INVITE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}

	req.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(req, tags, tags)
	featuretag.SetRemoteInstanceID(req, path.RemoteSipInstance())
	b.addAllow(req)

	local := isLocalInvite(path, first)
	route := path.Route()
	switch {
	case len(route) > 0:
		b.addRoute(req, route)
	case local:
		copyHeader(first, req, HeaderRoute)
	}
	if !local || !copyHeader(first, req, HeaderPreferredIdentity) {
		b.addPreferredIdentity(req)
	}
	b.addUserAgent(req)
	b.addSessionTimer(req, path)
	setBody(req, sdpbody.ContentType, sdp)
	return req, nil
}

func (b *Builder) firstInvite(path *dialog.Path) (*sip.Request, error) {
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	first := path.Invite()
	if first == nil {
		return nil, dialog.NewPayloadError(dialog.CodeMissingInvite, "invite", "dialog has no initial invite", nil).
			WithMethod(sip.INVITE).WithCallID(path.CallID())
	}
	return first, nil
}

// isLocalInvite INVITE отправлен локальной стороной: тег From совпадает
// с локальным тегом диалога
func isLocalInvite(path *dialog.Path, invite *sip.Request) bool {
	from := invite.From()
	if from == nil || from.Params == nil {
		return false
	}
	tag, ok := from.Params.Get("tag")
	return ok && tag == path.LocalTag()
}
