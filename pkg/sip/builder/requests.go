package builder

import (
	"strings"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/sip/featuretag"
	"github.com/arzzra/rcs_core/pkg/sip/resourcelist"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// ContentTypePIDF тип тела PUBLISH
const ContentTypePIDF = "application/pidf+xml"

// Register создает REGISTER. Тег From генерируется заново для каждого
// запроса, Expires передается в секундах.
func (b *Builder) Register(path *dialog.Path, tags []string, expire time.Duration, instanceID string) (*sip.Request, error) {
	if expire < 0 {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "expire", "negative expire period", nil).
			WithMethod(sip.REGISTER)
	}
	req, err := b.newRequest(sip.REGISTER, path, tagsFresh, true)
	if err != nil {
		return nil, err
	}

	b.addRoute(req, path.Route())

	supported, instance := "path", ""
	if instanceID != "" {
		instance = featuretag.SipInstanceParam + `="` + strings.Trim(instanceID, `"`) + `"`
		supported = "path, gruu"
	}
	req.AppendHeader(b.Contact(tags, instance))
	req.AppendHeader(sip.NewHeader(HeaderSupported, supported))
	b.addAllow(req)

	expires := sip.ExpiresHeader(uint32(expire / time.Second))
	req.AppendHeader(&expires)
	b.addUserAgent(req)
	setBody(req, "", "")

	b.logger.Debug("register built",
		zap.String("call_id", path.CallID()),
		zap.Uint32("cseq", path.CSeq()),
		zap.Duration("expire", expire))
	return req, nil
}

// Subscribe создает SUBSCRIBE
func (b *Builder) Subscribe(path *dialog.Path, expire time.Duration) (*sip.Request, error) {
	if expire < 0 {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "expire", "negative expire period", nil).
			WithMethod(sip.SUBSCRIBE)
	}
	req, err := b.newRequest(sip.SUBSCRIBE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())

	expires := sip.ExpiresHeader(uint32(expire / time.Second))
	req.AppendHeader(&expires)
	b.addUserAgent(req)
	req.AppendHeader(b.Contact(nil))
	b.addAllow(req)
	setBody(req, "", "")
	return req, nil
}

// Message создает MESSAGE. Необязательный тег попадает в Contact и
// Accept-Contact, +sip.instance удаленного устройства в Accept-Contact.
func (b *Builder) Message(path *dialog.Path, featureTag, contentType string, content []byte) (*sip.Request, error) {
	if contentType == "" || !strings.Contains(contentType, "/") {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "content type", "invalid content type "+contentType, nil).
			WithMethod(sip.MESSAGE)
	}
	req, err := b.newRequest(sip.MESSAGE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())
	b.addPreferredIdentity(req)
	req.AppendHeader(b.Contact(nil))
	b.addUserAgent(req)
	if featureTag != "" {
		featuretag.SetFeatureTags(req, []string{featureTag}, []string{featureTag})
	}
	setBody(req, contentType, string(content))
	featuretag.SetRemoteInstanceID(req, path.RemoteSipInstance())
	return req, nil
}

// Publish создает PUBLISH с документом presence. Пустой entityTag
// означает первичную публикацию.
func (b *Builder) Publish(path *dialog.Path, expire time.Duration, entityTag, content string) (*sip.Request, error) {
	if expire < 0 {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "expire", "negative expire period", nil).
			WithMethod(sip.PUBLISH)
	}
	req, err := b.newRequest(sip.PUBLISH, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())

	expires := sip.ExpiresHeader(uint32(expire / time.Second))
	req.AppendHeader(&expires)
	if entityTag != "" {
		req.AppendHeader(sip.NewHeader(HeaderSIPIfMatch, entityTag))
	}
	b.addUserAgent(req)
	req.AppendHeader(sip.NewHeader(HeaderEvent, "presence"))
	setBody(req, ContentTypePIDF, content)
	return req, nil
}

// Options создает OPTIONS для обмена возможностями
func (b *Builder) Options(path *dialog.Path, tags []string) (*sip.Request, error) {
	req, err := b.newRequest(sip.OPTIONS, path, tagsInitial, false)
	if err != nil {
		return nil, err
	}
	req.AppendHeader(b.Contact(nil))
	req.AppendHeader(sip.NewHeader(HeaderAccept, "application/sdp"))
	featuretag.SetFeatureTags(req, tags, tags)
	b.addAllow(req)
	b.addRoute(req, path.Route())
	b.addPreferredIdentity(req)
	b.addUserAgent(req)
	setBody(req, "", "")
	return req, nil
}

// Ack создает ACK на 2xx INVITE с новым branch
func (b *Builder) Ack(path *dialog.Path) (*sip.Request, error) {
	req, err := b.newRequest(sip.ACK, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())
	req.AppendHeader(b.Contact(nil))
	b.addUserAgent(req)
	b.addAllow(req)
	setBody(req, "", "")
	return req, nil
}

// Bye создает BYE внутри диалога. Reason добавляется, если задан код
// завершения.
func (b *Builder) Bye(path *dialog.Path) (*sip.Request, error) {
	req, err := b.newRequest(sip.BYE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())
	b.addReason(req, path)
	b.addUserAgent(req)
	setBody(req, "", "")
	return req, nil
}

// Cancel создает CANCEL для сохраненного INVITE (RFC 3261 9.1):
// Request-URI, верхний Via, From, To, Call-ID, Route и номер CSeq
// совпадают с INVITE
func (b *Builder) Cancel(path *dialog.Path) (*sip.Request, error) {
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	invite := path.Invite()
	if invite == nil {
		return nil, dialog.NewPayloadError(dialog.CodeMissingInvite, "invite", "no invite to cancel", nil).
			WithMethod(sip.CANCEL).WithCallID(path.CallID())
	}

	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	if via := invite.Via(); via != nil {
		req.AppendHeader(via.Clone())
	}
	maxForwards := sip.MaxForwardsHeader(MaxForwards)
	req.AppendHeader(&maxForwards)
	if h := invite.From(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.To(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.CANCEL})
	}
	copyHeader(invite, req, HeaderRoute)
	b.addReason(req, path)
	b.addUserAgent(req)
	setBody(req, "", "")
	return req, nil
}

// Refer создает REFER для одного участника
func (b *Builder) Refer(path *dialog.Path, referTo, subject, contributionID string) (*sip.Request, error) {
	if referTo == "" {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidURI, "refer-to", "empty refer target", nil).
			WithMethod(sip.REFER)
	}
	target, err := b.parseURI("refer-to", referTo)
	if err != nil {
		return nil, err.WithMethod(sip.REFER)
	}
	req, rerr := b.newRequest(sip.REFER, path, tagsDialog, false)
	if rerr != nil {
		return nil, rerr
	}
	b.addRoute(req, path.Route())
	req.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(req, []string{featuretag.OMAIM}, []string{featuretag.OMAIM})
	req.AppendHeader(sip.NewHeader(HeaderReferTo, "<"+target.String()+">"))
	req.AppendHeader(sip.NewHeader(HeaderReferSub, "false"))
	b.addPreferredIdentity(req)
	if subject != "" {
		req.AppendHeader(sip.NewHeader(HeaderSubject, subject))
	}
	req.AppendHeader(sip.NewHeader(HeaderContributionID, contributionID))
	b.addUserAgent(req)
	setBody(req, "", "")
	featuretag.SetRemoteInstanceID(req, path.RemoteSipInstance())
	return req, nil
}

// ReferToMany создает REFER со списком участников
// (RFC 5368, multiple-refer). Список передается телом resource-lists,
// Refer-To ссылается на него через cid.
func (b *Builder) ReferToMany(path *dialog.Path, participants []string, subject, contributionID string) (*sip.Request, error) {
	if len(participants) == 0 {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "participants", "empty participant list", nil).
			WithMethod(sip.REFER)
	}
	uris := make([]string, 0, len(participants))
	for _, p := range participants {
		uri, err := b.participantURI(p)
		if err != nil {
			return nil, err.WithMethod(sip.REFER)
		}
		uris = append(uris, uri)
	}

	req, err := b.newRequest(sip.REFER, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	listID := dialog.GenerateListID(b.now())
	cid := listID + "@" + b.stack.HomeDomain

	b.addRoute(req, path.Route())
	req.AppendHeader(b.Contact(nil))
	featuretag.SetFeatureTags(req, []string{featuretag.OMAIM}, []string{featuretag.OMAIM})
	req.AppendHeader(sip.NewHeader(HeaderRequire, "multiple-refer"))
	req.AppendHeader(sip.NewHeader(HeaderRequire, "norefersub"))
	req.AppendHeader(sip.NewHeader(HeaderReferTo, "<cid:"+cid+">"))
	req.AppendHeader(sip.NewHeader(HeaderReferSub, "false"))
	b.addPreferredIdentity(req)
	req.AppendHeader(sip.NewHeader(HeaderSubject, subject))
	req.AppendHeader(sip.NewHeader(HeaderContributionID, contributionID))
	b.addUserAgent(req)
	req.AppendHeader(sip.NewHeader(HeaderContentID, "<"+cid+">"))
	setBody(req, resourcelist.ContentType, resourcelist.Generate(uris))
	req.AppendHeader(sip.NewHeader(HeaderContentDisp, "recipient-list"))
	featuretag.SetRemoteInstanceID(req, path.RemoteSipInstance())

	b.logger.Debug("refer to many built",
		zap.String("call_id", path.CallID()),
		zap.String("list_id", listID),
		zap.Int("participants", len(uris)))
	return req, nil
}

// participantURI проверяет адрес участника; tel: URI сохраняются как есть
func (b *Builder) participantURI(participant string) (string, *dialog.Error) {
	raw := dialog.ExtractURI(participant)
	if strings.HasPrefix(strings.ToLower(raw), "tel:") && len(raw) > len("tel:") {
		return raw, nil
	}
	uri, err := b.parseURI("participant", raw)
	if err != nil {
		return "", err
	}
	return uri.String(), nil
}

// Update создает UPDATE для обновления таймера сессии
func (b *Builder) Update(path *dialog.Path) (*sip.Request, error) {
	req, err := b.newRequest(sip.UPDATE, path, tagsDialog, false)
	if err != nil {
		return nil, err
	}
	b.addRoute(req, path.Route())
	req.AppendHeader(b.Contact(nil))
	b.addAllow(req)
	b.addUserAgent(req)
	b.addSessionTimer(req, path)
	setBody(req, "", "")
	return req, nil
}
