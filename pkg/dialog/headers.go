package dialog

import "github.com/emiago/sipgo/sip"

// Header первый заголовок сообщения с одним из имен (полная и
// сокращенная форма), nil если ни одного нет
func Header(msg sip.Message, names ...string) sip.Header {
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

// ToTag параметр tag заголовка To, пустой для начального запроса
func ToTag(msg sip.Message) string {
	if msg == nil {
		return ""
	}
	to := msg.To()
	if to == nil || to.Params == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}
