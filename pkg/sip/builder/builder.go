// Package builder строит SIP запросы и ответы IMS/RCS клиента
// поверх типизированных заголовков sipgo.
package builder

import (
	"strconv"
	"strings"
	"time"

	"github.com/arzzra/rcs_core/pkg/dialog"
	"github.com/arzzra/rcs_core/pkg/sip/featuretag"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// AllowedMethods значение заголовка Allow для всех сообщений
const AllowedMethods = "INVITE, UPDATE, ACK, CANCEL, BYE, NOTIFY, OPTIONS, MESSAGE, REFER"

// MaxForwards значение Max-Forwards новых запросов
const MaxForwards = 70

// Имена заголовков, для которых в sipgo нет типизированных структур
const (
	HeaderAllow             = "Allow"
	HeaderSupported         = "Supported"
	HeaderRequire           = "Require"
	HeaderUserAgent         = "User-Agent"
	HeaderServer            = "Server"
	HeaderRoute             = "Route"
	HeaderPreferredIdentity = "P-Preferred-Identity"
	HeaderAccept            = "Accept"
	HeaderEvent             = "Event"
	HeaderSIPIfMatch        = "SIP-If-Match"
	HeaderReferTo           = "Refer-To"
	HeaderReferSub          = "Refer-Sub"
	HeaderSubject           = "Subject"
	HeaderContributionID    = "Contribution-ID"
	HeaderContentID         = "Content-ID"
	HeaderContentDisp       = "Content-Disposition"
	HeaderReason            = "Reason"
	HeaderWarning           = "Warning"
)

// Stack параметры локального SIP стека, общие для всех сообщений
type Stack struct {
	// ContactURI локальный контакт, например sip:alice@10.0.0.1:5060
	ContactURI string
	ViaHost    string
	ViaPort    int
	// Transport UDP, TCP или TLS
	Transport string

	UserAgent string
	Server    string

	// PreferredIdentity URI для P-Preferred-Identity, пустое значение
	// отключает заголовок
	PreferredIdentity string
	HomeDomain        string
}

// Option настройка Builder
type Option func(*Builder)

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock подменяет источник времени (идентификаторы списков REFER)
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Builder фабрика SIP сообщений. Безопасен для конкурентного использования:
// состояние диалога хранится в dialog.Path.
type Builder struct {
	stack      Stack
	contactURI sip.Uri
	logger     *zap.Logger
	now        func() time.Time
}

// New создает Builder. Неверный контакт стека возвращает ошибку
// построения сообщения.
func New(stack Stack, opts ...Option) (*Builder, error) {
	if stack.Transport == "" {
		stack.Transport = "UDP"
	}
	stack.Transport = strings.ToUpper(stack.Transport)
	if stack.ViaPort == 0 {
		stack.ViaPort = 5060
	}
	if stack.Server == "" {
		stack.Server = stack.UserAgent
	}

	b := &Builder{
		stack:  stack,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	contact, err := b.parseURI("contact", stack.ContactURI)
	if err != nil {
		return nil, err
	}
	b.contactURI = contact
	if b.stack.ViaHost == "" {
		b.stack.ViaHost = contact.Host
	}
	return b, nil
}

// Stack возвращает параметры стека
func (b *Builder) Stack() Stack {
	return b.stack
}

// Contact локальный Contact с параметрами и набором тегов. Параметры
// пишутся в заданном порядке, теги после них.
func (b *Builder) Contact(tags []string, params ...string) sip.Header {
	value := "<" + b.contactURI.String() + ">"
	for _, param := range params {
		if param != "" {
			value += ";" + param
		}
	}
	return sip.NewHeader(featuretag.HeaderContact, featuretag.EncodeContactTags(value, tags))
}

type tagMode int

const (
	// локальный тег в From, To без тега: запрос вне диалога
	tagsInitial tagMode = iota
	// теги диалога в From и To
	tagsDialog
	// новый тег From на каждый запрос (REGISTER)
	tagsFresh
)

// newRequest создает запрос с общими заголовками: Via, Max-Forwards,
// From, To, Call-ID, CSeq
func (b *Builder) newRequest(method sip.RequestMethod, path *dialog.Path, tags tagMode, keep bool) (*sip.Request, error) {
	if path == nil {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "path", "dialog path is nil", nil)
	}
	if path.CallID() == "" {
		return nil, dialog.NewPayloadError(dialog.CodeInvalidArgument, "Call-ID", "empty call id", nil).
			WithMethod(method)
	}
	recipient, err := b.parseURI("target", path.Target())
	if err != nil {
		return nil, err.WithMethod(method).WithCallID(path.CallID())
	}
	from, err := b.parseURI("local party", path.LocalParty())
	if err != nil {
		return nil, err.WithMethod(method).WithCallID(path.CallID())
	}
	to, err := b.parseURI("remote party", path.RemoteParty())
	if err != nil {
		return nil, err.WithMethod(method).WithCallID(path.CallID())
	}

	fromTag, toTag := path.LocalTag(), ""
	switch tags {
	case tagsDialog:
		toTag = path.RemoteTag()
	case tagsFresh:
		fromTag = dialog.GenerateTag()
	}

	req := sip.NewRequest(method, recipient)
	req.AppendHeader(b.via(keep))

	maxForwards := sip.MaxForwardsHeader(MaxForwards)
	req.AppendHeader(&maxForwards)

	fromHeader := &sip.FromHeader{Address: from, Params: sip.NewParams()}
	if fromTag != "" {
		fromHeader.Params.Add("tag", fromTag)
	}
	req.AppendHeader(fromHeader)

	toHeader := &sip.ToHeader{Address: to, Params: sip.NewParams()}
	if toTag != "" {
		toHeader.Params.Add("tag", toTag)
	}
	req.AppendHeader(toHeader)

	callID := sip.CallIDHeader(path.CallID())
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: path.CSeq(), MethodName: method})
	return req, nil
}

// via новый Via с rport. keep добавляется в REGISTER и INVITE (RFC 6223).
func (b *Builder) via(keep bool) *sip.ViaHeader {
	params := sip.NewParams()
	params.Add("branch", dialog.GenerateBranch())
	params.Add("rport", "")
	if keep {
		params.Add("keep", "")
	}
	return &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       b.stack.Transport,
		Host:            b.stack.ViaHost,
		Port:            b.stack.ViaPort,
		Params:          params,
	}
}

// parseURI разбирает адрес диалога. tel: URI переводятся в
// sip:<number>@<home domain>;user=phone.
func (b *Builder) parseURI(param, value string) (sip.Uri, *dialog.Error) {
	raw := dialog.ExtractURI(value)
	if raw == "" {
		return sip.Uri{}, dialog.NewPayloadError(dialog.CodeInvalidURI, param, "empty uri", nil)
	}
	if strings.HasPrefix(strings.ToLower(raw), "tel:") {
		raw = b.telToSip(raw)
	}
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, dialog.NewPayloadError(dialog.CodeInvalidURI, param, "cannot parse uri "+value, err)
	}
	return uri, nil
}

func (b *Builder) telToSip(tel string) string {
	if b.stack.HomeDomain == "" {
		return tel
	}
	number, _, _ := strings.Cut(tel[len("tel:"):], ";")
	return "sip:" + number + "@" + b.stack.HomeDomain + ";user=phone"
}

func (b *Builder) addRoute(msg sip.Message, route []string) {
	for _, entry := range route {
		msg.AppendHeader(sip.NewHeader(HeaderRoute, entry))
	}
}

func (b *Builder) addAllow(msg sip.Message) {
	msg.AppendHeader(sip.NewHeader(HeaderAllow, AllowedMethods))
}

func (b *Builder) addUserAgent(msg sip.Message) {
	if b.stack.UserAgent != "" {
		msg.AppendHeader(sip.NewHeader(HeaderUserAgent, b.stack.UserAgent))
	}
}

func (b *Builder) addServer(msg sip.Message) {
	if b.stack.Server != "" {
		msg.AppendHeader(sip.NewHeader(HeaderServer, b.stack.Server))
	}
}

func (b *Builder) addPreferredIdentity(msg sip.Message) {
	if b.stack.PreferredIdentity == "" {
		return
	}
	msg.AppendHeader(sip.NewHeader(HeaderPreferredIdentity, "<"+dialog.ExtractURI(b.stack.PreferredIdentity)+">"))
}

// addSessionTimer Supported: timer и Session-Expires в секундах
func (b *Builder) addSessionTimer(msg sip.Message, path *dialog.Path) {
	if !path.SessionTimerEnabled() {
		return
	}
	msg.AppendHeader(sip.NewHeader(HeaderSupported, "timer"))
	msg.AppendHeader(sip.NewHeader(dialog.HeaderSessionExpires, seconds(path.SessionExpire())))
}

func (b *Builder) addReason(msg sip.Message, path *dialog.Path) {
	code, phrase := path.TerminationReason()
	if code == dialog.NoReasonCode {
		return
	}
	msg.AppendHeader(sip.NewHeader(HeaderReason, ReasonValue(code, phrase)))
}

// ReasonValue значение заголовка Reason: SIP;cause=<code>;text="<phrase>"
func ReasonValue(code int, phrase string) string {
	return "SIP;cause=" + strconv.Itoa(code) + `;text="` + phrase + `"`
}

// WarningValue значение Warning с кодом 403
func WarningValue(text string) string {
	return `403 SIP "` + text + `"`
}

// setBody задает тело и тип содержимого. Всегда оставляет ровно один
// Content-Length, равный длине тела в байтах UTF-8.
func setBody(msg sip.Message, contentType, body string) {
	removeHeader(msg, "Content-Type")
	if body != "" {
		if contentType != "" {
			ct := sip.ContentTypeHeader(contentType)
			msg.AppendHeader(&ct)
		}
		msg.SetBody([]byte(body))
	}
	fixContentLength(msg, len(body))
}

func fixContentLength(msg sip.Message, length int) {
	headers := msg.GetHeaders("Content-Length")
	if len(headers) == 1 && strings.TrimSpace(headers[0].Value()) == strconv.Itoa(length) {
		return
	}
	for range headers {
		removeHeader(msg, "Content-Length")
	}
	contentLength := sip.ContentLengthHeader(length)
	msg.AppendHeader(&contentLength)
}

func removeHeader(msg sip.Message, name string) {
	switch m := msg.(type) {
	case *sip.Request:
		m.RemoveHeader(name)
	case *sip.Response:
		m.RemoveHeader(name)
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// copyHeader копирует все заголовки name из src в dst
func copyHeader(src, dst sip.Message, name string) bool {
	headers := src.GetHeaders(name)
	for _, h := range headers {
		dst.AppendHeader(sip.HeaderClone(h))
	}
	return len(headers) > 0
}

func setToTag(res *sip.Response, tag string) {
	to := res.To()
	if to == nil || tag == "" {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", tag)
}
