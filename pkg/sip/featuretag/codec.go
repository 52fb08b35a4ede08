package featuretag

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/samber/lo"
)

// Имена заголовков Contact и Accept-Contact
const (
	HeaderContact              = "Contact"
	HeaderContactCompact       = "m"
	HeaderAcceptContact        = "Accept-Contact"
	HeaderAcceptContactCompact = "a"
)

// EncodeContactTags дописывает теги параметрами к значению Contact.
// Пустой список возвращает значение без изменений.
func EncodeContactTags(value string, tags []string) string {
	params := ContactParams(tags)
	if len(params) == 0 {
		return value
	}
	return value + ";" + strings.Join(params, ";")
}

// ContactParams параметры Contact для набора тегов. Значения IARI и ICSI
// объединяются в один параметр через запятую (+g.3gpp.iari-ref="a,b"),
// параметры идут в порядке первого появления имени.
func ContactParams(tags []string) []string {
	var (
		names  []string
		values = make(map[string][]string)
	)
	for _, tag := range Uniq(tags) {
		for _, token := range splitParams(tag) {
			if token == "" {
				continue
			}
			name, value := splitTag(token)
			name = strings.TrimSpace(name)
			if _, seen := values[name]; !seen {
				names = append(names, name)
				values[name] = nil
			}
			if value == "" {
				continue
			}
			if listParams[strings.ToLower(name)] {
				for _, v := range strings.Split(unquote(strings.TrimSpace(value)), ",") {
					if v = strings.TrimSpace(v); v != "" && !lo.Contains(values[name], v) {
						values[name] = append(values[name], v)
					}
				}
				continue
			}
			if len(values[name]) == 0 {
				values[name] = []string{strings.TrimSpace(value)}
			}
		}
	}

	params := make([]string, 0, len(names))
	for _, name := range names {
		v := values[name]
		switch {
		case len(v) == 0:
			params = append(params, name)
		case listParams[strings.ToLower(name)]:
			params = append(params, name+`="`+strings.Join(v, ",")+`"`)
		default:
			params = append(params, name+"="+v[0])
		}
	}
	return params
}

// listParams параметры со списком значений через запятую
var listParams = map[string]bool{
	strings.ToLower(IARIRef): true,
	strings.ToLower(ICSIRef): true,
}

// AcceptContactValue строит значение вида *;tag1;tag2
func AcceptContactValue(tags []string) string {
	var b strings.Builder
	b.WriteString("*")
	for _, tag := range Uniq(tags) {
		b.WriteString(";")
		b.WriteString(tag)
	}
	return b.String()
}

// AcceptContact создает заголовок Accept-Contact, nil для пустого списка
func AcceptContact(tags []string) sip.Header {
	if len(Uniq(tags)) == 0 {
		return nil
	}
	return sip.NewHeader(HeaderAcceptContact, AcceptContactValue(tags))
}

// SetFeatureTags применяет теги к Contact и Accept-Contact сообщения.
// Contact заменяется заголовком с параметрами в фиксированном порядке.
func SetFeatureTags(msg sip.Message, contactTags, acceptTags []string) {
	if len(ContactParams(contactTags)) > 0 {
		if contact := firstHeader(msg, HeaderContact, HeaderContactCompact); contact != nil {
			value := EncodeContactTags(contact.Value(), contactTags)
			removeHeader(msg, contact.Name())
			msg.AppendHeader(sip.NewHeader(HeaderContact, value))
		}
	}
	if h := AcceptContact(acceptTags); h != nil {
		msg.AppendHeader(h)
	}
}

// DecodeAcceptContactTags разбирает значение Accept-Contact обратно в теги.
// Первый токен (адрес "*") пропускается.
func DecodeAcceptContactTags(value string) []string {
	tokens := splitParams(value)
	if len(tokens) < 2 {
		return nil
	}
	return Uniq(tokens[1:])
}

// DecodeContactTags feature tags из параметров Contact сообщения,
// например ответа на OPTIONS
func DecodeContactTags(msg sip.Message) []string {
	if msg == nil {
		return nil
	}
	h := firstHeader(msg, HeaderContact, HeaderContactCompact)
	if h == nil {
		return nil
	}
	tokens := splitParams(h.Value())
	if len(tokens) < 2 {
		return nil
	}
	var tags []string
	for _, token := range tokens[1:] {
		key, value := splitTag(token)
		key = strings.TrimSpace(key)
		switch {
		case listParams[strings.ToLower(key)] && value != "":
			for _, v := range strings.Split(unquote(strings.TrimSpace(value)), ",") {
				if v = strings.TrimSpace(v); v != "" {
					tags = append(tags, key+`="`+v+`"`)
				}
			}
		case strings.EqualFold(key, SipInstanceParam):
		case strings.HasPrefix(key, "+") || contactMediaTags[strings.ToLower(key)]:
			tags = append(tags, token)
		}
	}
	return Uniq(tags)
}

// contactMediaTags базовые теги RFC 3840 без префикса '+'
var contactMediaTags = map[string]bool{
	SipAutomata: true,
	"audio":     true,
	"video":     true,
	"text":      true,
	"isfocus":   true,
}

// DecodeInstanceID ищет +sip.instance в Accept-Contact
func DecodeInstanceID(msg sip.Message) (string, bool) {
	return findAcceptContactParam(msg, SipInstanceParam)
}

// DecodePublicGruu ищет pub-gruu в Accept-Contact
func DecodePublicGruu(msg sip.Message) (string, bool) {
	return findAcceptContactParam(msg, PublicGruuParam)
}

// SetRemoteInstanceID добавляет +sip.instance удаленного устройства
// в Accept-Contact, создавая заголовок при необходимости
func SetRemoteInstanceID(msg sip.Message, instanceID string) {
	if instanceID == "" {
		return
	}
	param := SipInstanceParam + `="` + unquote(instanceID) + `"`
	if h := acceptContactHeader(msg); h != nil {
		value := h.Value() + ";" + param
		removeHeader(msg, h.Name())
		msg.AppendHeader(sip.NewHeader(HeaderAcceptContact, value))
		return
	}
	msg.AppendHeader(sip.NewHeader(HeaderAcceptContact, "*;"+param))
}

// removeHeader удаляет заголовок у запроса или ответа
func removeHeader(msg sip.Message, name string) {
	switch m := msg.(type) {
	case *sip.Request:
		m.RemoveHeader(name)
	case *sip.Response:
		m.RemoveHeader(name)
	}
}

func acceptContactHeader(msg sip.Message) sip.Header {
	return firstHeader(msg, HeaderAcceptContact, HeaderAcceptContactCompact)
}

// firstHeader первый заголовок по полному или сокращенному имени
func firstHeader(msg sip.Message, names ...string) sip.Header {
	if msg == nil {
		return nil
	}
	for _, name := range names {
		if hs := msg.GetHeaders(name); len(hs) > 0 {
			return hs[0]
		}
	}
	return nil
}

// findAcceptContactParam никогда не возвращает ошибку: поиск
// возможностей выполняется по принципу best-effort
func findAcceptContactParam(msg sip.Message, name string) (string, bool) {
	h := acceptContactHeader(msg)
	if h == nil {
		return "", false
	}
	tokens := splitParams(h.Value())
	if len(tokens) < 2 {
		return "", false
	}
	for _, token := range tokens[1:] {
		key, value := splitTag(token)
		if !strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		value = unquote(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		return value, true
	}
	return "", false
}

// splitParams делит строку по ';' вне кавычек
func splitParams(value string) []string {
	var (
		tokens  []string
		quoted  bool
		current strings.Builder
	)
	for _, r := range value {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ';' && !quoted:
			tokens = append(tokens, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		// незакрытая кавычка
		return nil
	}
	tokens = append(tokens, strings.TrimSpace(current.String()))
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
