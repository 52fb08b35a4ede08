package dialog

import (
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"go.uber.org/atomic"
)

// NoReasonCode причина завершения не задана
const NoReasonCode = -1

// MinExpireRegistry хранит минимальный Session-Expires, полученный от сети
// (Min-SE из 422). Разделяется всеми диалогами процесса.
type MinExpireRegistry struct {
	value atomic.Int64
}

// NewMinExpireRegistry создает пустой реестр
func NewMinExpireRegistry() *MinExpireRegistry {
	r := &MinExpireRegistry{}
	r.value.Store(-1)
	return r
}

// Get возвращает сохраненное значение, false если его нет
func (r *MinExpireRegistry) Get() (time.Duration, bool) {
	if r == nil {
		return 0, false
	}
	v := r.value.Load()
	if v < 0 {
		return 0, false
	}
	return time.Duration(v), true
}

// Set сохраняет минимальный период
func (r *MinExpireRegistry) Set(d time.Duration) {
	if r == nil {
		return
	}
	r.value.Store(int64(d))
}

// PathConfig параметры создания DialogPath
type PathConfig struct {
	CallID      string
	CSeq        uint32
	Target      string
	LocalParty  string
	RemoteParty string
	Route       []string

	// SessionExpire период обновления сессии из настроек
	SessionExpire time.Duration
	MinExpire     *MinExpireRegistry
}

// Path идентифицирующее состояние одного SIP диалога.
// Все методы потокобезопасны.
type Path struct {
	mu sync.RWMutex

	callID      string
	cseq        uint32
	localTag    string
	remoteTag   string
	target      string
	localParty  string
	remoteParty string

	invite            *sip.Request
	localContent      string
	remoteContent     string
	remoteSipInstance string
	route             []string

	sessionExpire time.Duration
	minExpire     *MinExpireRegistry

	sigEstablished     bool
	sessionEstablished bool
	cancelled          bool
	terminated         bool
	reasonCode         int
	reasonPhrase       string
}

// NewPath создает DialogPath. Локальный тег генерируется сразу.
func NewPath(cfg PathConfig) *Path {
	cseq := cfg.CSeq
	if cseq == 0 {
		cseq = 1
	}
	p := &Path{
		callID:      cfg.CallID,
		cseq:        cseq,
		localTag:    GenerateTag(),
		target:      ExtractURI(cfg.Target),
		localParty:  cfg.LocalParty,
		remoteParty: cfg.RemoteParty,
		route:       append([]string(nil), cfg.Route...),
		minExpire:   cfg.MinExpire,
		reasonCode:  NoReasonCode,
	}
	p.sessionExpire = cfg.SessionExpire
	if minValue, ok := cfg.MinExpire.Get(); ok &&
		cfg.SessionExpire > MinExpirePeriod && cfg.SessionExpire < minValue {
		p.sessionExpire = minValue
	}
	return p
}

// NewTerminatingPath создает диалог входящей сессии из INVITE:
// цель берется из Contact, маршрут из Record-Route в исходном порядке
func NewTerminatingPath(invite *sip.Request, sessionExpire time.Duration, registry *MinExpireRegistry) *Path {
	cfg := PathConfig{
		SessionExpire: sessionExpire,
		MinExpire:     registry,
		Route:         RouteProcessing(invite, false),
	}
	if h := invite.CallID(); h != nil {
		cfg.CallID = h.Value()
	}
	if h := invite.CSeq(); h != nil {
		cfg.CSeq = h.SeqNo
	}
	if h := invite.Contact(); h != nil {
		cfg.Target = h.Address.String()
	}
	if h := invite.To(); h != nil {
		cfg.LocalParty = h.Address.String()
	}
	if h := invite.From(); h != nil {
		cfg.RemoteParty = h.Address.String()
	}

	p := NewPath(cfg)
	if from := invite.From(); from != nil && from.Params != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			p.remoteTag = tag
		}
	}
	p.invite = invite
	p.remoteContent = string(invite.Body())
	return p
}

// CallID идентификатор диалога, не меняется в течение жизни диалога
func (p *Path) CallID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.callID
}

// CSeq текущий номер последовательности
func (p *Path) CSeq() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cseq
}

// IncrementCSeq увеличивает CSeq и возвращает новое значение
func (p *Path) IncrementCSeq() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cseq++
	return p.cseq
}

// LocalTag локальный тег
func (p *Path) LocalTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localTag
}

// RemoteTag удаленный тег
func (p *Path) RemoteTag() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteTag
}

// SetRemoteTag сохраняет тег удаленной стороны
func (p *Path) SetRemoteTag(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteTag = tag
}

// Target Request-URI для запросов внутри диалога
func (p *Path) Target() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

// SetTarget обновляет цель (Contact удаленной стороны)
func (p *Path) SetTarget(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = ExtractURI(target)
}

// LocalParty адрес локальной стороны
func (p *Path) LocalParty() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localParty
}

// RemoteParty адрес удаленной стороны
func (p *Path) RemoteParty() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteParty
}

// Invite исходный INVITE диалога
func (p *Path) Invite() *sip.Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invite
}

// SetInvite сохраняет INVITE
func (p *Path) SetInvite(invite *sip.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invite = invite
}

// LocalContent локальное SDP
func (p *Path) LocalContent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localContent
}

// SetLocalContent сохраняет локальное SDP
func (p *Path) SetLocalContent(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localContent = content
}

// RemoteContent удаленное SDP
func (p *Path) RemoteContent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteContent
}

// SetRemoteContent сохраняет удаленное SDP
func (p *Path) SetRemoteContent(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteContent = content
}

// RemoteSipInstance +sip.instance удаленного устройства
func (p *Path) RemoteSipInstance() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteSipInstance
}

// SetRemoteSipInstance сохраняет +sip.instance удаленного устройства
func (p *Path) SetRemoteSipInstance(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteSipInstance = id
}

// Route копия маршрута в сохраненном порядке
func (p *Path) Route() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.route...)
}

// SetRoute заменяет маршрут
func (p *Path) SetRoute(route []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.route = append([]string(nil), route...)
}

// SessionExpire согласованный период сессии
func (p *Path) SessionExpire() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionExpire
}

// SetSessionExpire обновляет период сессии
func (p *Path) SetSessionExpire(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionExpire = d
}

// SetMinSessionExpire сохраняет Min-SE, полученный от сети, для
// последующих диалогов
func (p *Path) SetMinSessionExpire(d time.Duration) {
	p.minExpire.Set(d)
}

// SessionTimerEnabled период достаточен для RFC 4028
func (p *Path) SessionTimerEnabled() bool {
	return p.SessionExpire() >= MinExpirePeriod
}

// SetSigEstablished сигнализация установлена (получен 200 OK)
func (p *Path) SetSigEstablished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sigEstablished = true
}

// IsSigEstablished установлена ли сигнализация
func (p *Path) IsSigEstablished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sigEstablished
}

// SetSessionEstablished сессия установлена (ACK отправлен или получен)
func (p *Path) SetSessionEstablished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionEstablished = true
}

// IsSessionEstablished установлена ли сессия
func (p *Path) IsSessionEstablished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionEstablished
}

// SetSessionCancelled сессия отменена
func (p *Path) SetSessionCancelled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
}

// IsSessionCancelled отменена ли сессия
func (p *Path) IsSessionCancelled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cancelled
}

// SetSessionTerminated сессия завершена без указания причины
func (p *Path) SetSessionTerminated() {
	p.SetSessionTerminatedWithReason(NoReasonCode, "")
}

// SetSessionTerminatedWithReason сессия завершена; код и фраза попадут
// в заголовок Reason запросов BYE/CANCEL
func (p *Path) SetSessionTerminatedWithReason(code int, phrase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.reasonCode = code
	p.reasonPhrase = phrase
}

// IsSessionTerminated завершена ли сессия
func (p *Path) IsSessionTerminated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.terminated
}

// TerminationReason код (-1 если нет) и фраза причины завершения
func (p *Path) TerminationReason() (int, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reasonCode, p.reasonPhrase
}

// RouteProcessing строит маршрут из Record-Route сообщения.
// invert=true разворачивает порядок (ответы на исходящие запросы).
func RouteProcessing(msg sip.Message, invert bool) []string {
	var route []string
	for _, h := range msg.GetHeaders("Record-Route") {
		for _, value := range splitAddressList(h.Value()) {
			if invert {
				route = append([]string{value}, route...)
			} else {
				route = append(route, value)
			}
		}
	}
	return route
}

// ExtractURI извлекает URI из значения адреса: "Name" <sip:a@b>;tag=1 -> sip:a@b
func ExtractURI(address string) string {
	address = strings.TrimSpace(address)
	start := strings.IndexByte(address, '<')
	if start < 0 {
		return address
	}
	end := strings.IndexByte(address[start:], '>')
	if end < 0 {
		return address[start+1:]
	}
	return address[start+1 : start+end]
}

// splitAddressList делит список адресов по запятым вне <> и кавычек
func splitAddressList(value string) []string {
	var (
		result []string
		depth  int
		quoted bool
		start  int
	)
	for i, r := range value {
		switch r {
		case '"':
			quoted = !quoted
		case '<':
			if !quoted {
				depth++
			}
		case '>':
			if !quoted && depth > 0 {
				depth--
			}
		case ',':
			if !quoted && depth == 0 {
				if v := strings.TrimSpace(value[start:i]); v != "" {
					result = append(result, v)
				}
				start = i + 1
			}
		}
	}
	if v := strings.TrimSpace(value[start:]); v != "" {
		result = append(result, v)
	}
	return result
}
