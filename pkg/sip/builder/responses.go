package builder

import (
	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/sip/featuretag"
	"github.com/arzzra/rcs_core/pkg/sip/sdpbody"
	"github.com/emiago/sipgo/sip"
)

// Response создает ответ с кодом code. localTag проставляется в To,
// непустой warning добавляет заголовок Warning с кодом 403.
func (b *Builder) Response(req *sip.Request, localTag string, code int, warning string) (*sip.Response, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	if code < 100 || code > 699 {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "code", "status code out of range", nil).
			WithMethod(req.Method).
			WithField("code", code)
	}
	res := sip.NewResponseFromRequest(req, code, StatusText(code), nil)
	setToTag(res, localTag)
	if warning != "" {
		res.AppendHeader(sip.NewHeader(HeaderWarning, WarningValue(warning)))
	}
	setBody(res, "", "")
	return res, nil
}

// Ok200Invite создает 200 OK на сохраненный в диалоге INVITE
func (b *Builder) Ok200Invite(path *dialog.Path, tags, acceptTags []string, sdp string) (*sip.Response, error) {
	invite, err := b.firstInvite(path)
	if err != nil {
		return nil, err
	}
	if _, err := sdpbody.Validate(sdp); err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "sdp", "invalid sdp answer", err).
			WithMethod(sip.INVITE).WithCallID(path.CallID())
	}

	res := sip.NewResponseFromRequest(invite, StatusOK, StatusText(StatusOK), nil)
	setToTag(res, path.LocalTag())
	res.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(res, tags, acceptTags)
	b.addAllow(res)
	b.addServer(res)
	if path.SessionTimerEnabled() {
		res.AppendHeader(sip.NewHeader(HeaderRequire, "timer"))
		res.AppendHeader(sip.NewHeader(dialog.HeaderSessionExpires,
			seconds(path.SessionExpire())+";refresher="+dialog.SessionTimerRefresher(invite)))
	}
	setBody(res, sdpbody.ContentType, sdp)
	return res, nil
}

// Ok200Options отвечает на OPTIONS списком возможностей. sdp необязателен.
func (b *Builder) Ok200Options(req *sip.Request, tags []string, sdp string) (*sip.Response, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	res := sip.NewResponseFromRequest(req, StatusOK, StatusText(StatusOK), nil)
	setToTag(res, dialog.GenerateTag())
	res.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(res, tags, tags)
	b.addAllow(res)
	b.addServer(res)
	setBody(res, sdpbody.ContentType, sdp)
	return res, nil
}

// Ok200ReInvite отвечает на re-INVITE обновления таймера сессии.
// Session-Expires и Require: timer копируются, только если таймер
// согласован в запросе.
func (b *Builder) Ok200ReInvite(path *dialog.Path, req *sip.Request) (*sip.Response, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	res := sip.NewResponseFromRequest(req, StatusOK, StatusText(StatusOK), nil)
	if path != nil {
		setToTag(res, path.LocalTag())
	}
	res.AppendHeader(b.Contact(nil))
	b.addServer(res)
	copySessionExpires(req, res)
	setBody(res, "", "")
	return res, nil
}

// Ok200ReInviteWithContent отвечает на re-INVITE новым SDP
func (b *Builder) Ok200ReInviteWithContent(path *dialog.Path, req *sip.Request, tags []string, sdp string) (*sip.Response, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	if _, err := sdpbody.Validate(sdp); err != nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidBody, "sdp", "invalid sdp answer", err).
			WithMethod(sip.INVITE).WithCallID(path.CallID())
	}
	res := sip.NewResponseFromRequest(req, StatusOK, StatusText(StatusOK), nil)
	setToTag(res, path.LocalTag())
	res.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(res, tags, tags)
	b.addAllow(res)
	b.addServer(res)
	if path.SessionTimerEnabled() {
		refresher := dialog.RefresherUAC
		if invite := path.Invite(); invite != nil {
			refresher = dialog.SessionTimerRefresher(invite)
		}
		res.AppendHeader(sip.NewHeader(HeaderRequire, "timer"))
		res.AppendHeader(sip.NewHeader(dialog.HeaderSessionExpires,
			seconds(path.SessionExpire())+";refresher="+refresher))
	}
	setBody(res, sdpbody.ContentType, sdp)
	return res, nil
}

// Ok200Update отвечает на UPDATE обновления таймера сессии
func (b *Builder) Ok200Update(path *dialog.Path, req *sip.Request) (*sip.Response, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	res := sip.NewResponseFromRequest(req, StatusOK, StatusText(StatusOK), nil)
	if path != nil {
		setToTag(res, path.LocalTag())
	}
	res.AppendHeader(b.Contact(nil))
	b.addServer(res)
	copySessionExpires(req, res)
	setBody(res, "", "")
	return res, nil
}

func checkRequest(req *sip.Request) error {
	if req == nil {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "request", "request is nil", nil)
	}
	if req.Via() == nil || req.CSeq() == nil {
		return dialog.NewPayloadError(dialog.CodeInvalidArgument, "request", "request has no Via or CSeq", nil).
			WithMethod(req.Method)
	}
	return nil
}

// copySessionExpires переносит Session-Expires запроса в ответ вместе с
// Require: timer. Без Session-Expires в запросе ответ их не содержит.
func copySessionExpires(req *sip.Request, res *sip.Response) {
	if len(req.GetHeaders(dialog.HeaderSessionExpires)) == 0 &&
		len(req.GetHeaders(dialog.HeaderSessionExpiresCompact)) == 0 {
		return
	}
	res.AppendHeader(sip.NewHeader(HeaderRequire, "timer"))
	if !copyHeader(req, res, dialog.HeaderSessionExpires) {
		copyHeader(req, res, dialog.HeaderSessionExpiresCompact)
	}
}
