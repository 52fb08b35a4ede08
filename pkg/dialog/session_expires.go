package dialog

import (
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
)

// MinExpirePeriod минимальный период сессии, при котором включаются
// таймеры RFC 4028
const MinExpirePeriod = 90 * time.Second

// Роли обновления сессии
const (
	RefresherUAC = "uac"
	RefresherUAS = "uas"
)

// Заголовки таймеров сессии
const (
	HeaderSessionExpires        = "Session-Expires"
	HeaderSessionExpiresCompact = "x"
	HeaderMinSE                 = "Min-SE"
)

// SessionExpires разобранный заголовок Session-Expires
type SessionExpires struct {
	Period    time.Duration
	Refresher string
}

// ParseSessionExpires читает Session-Expires (секунды;refresher=role).
// Без параметра refresher роль считается uac.
func ParseSessionExpires(msg sip.Message) (SessionExpires, bool) {
	h := Header(msg, HeaderSessionExpires, HeaderSessionExpiresCompact)
	if h == nil {
		return SessionExpires{}, false
	}
	parts := strings.Split(h.Value(), ";")
	secs, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || secs < 0 {
		return SessionExpires{}, false
	}
	se := SessionExpires{
		Period:    time.Duration(secs) * time.Second,
		Refresher: RefresherUAC,
	}
	for _, param := range parts[1:] {
		name, value, _ := strings.Cut(strings.TrimSpace(param), "=")
		if strings.EqualFold(name, "refresher") && value != "" {
			se.Refresher = strings.ToLower(strings.TrimSpace(value))
		}
	}
	return se, true
}

// ParseMinSE читает Min-SE из ответа 422
func ParseMinSE(msg sip.Message) (time.Duration, bool) {
	h := Header(msg, HeaderMinSE)
	if h == nil {
		return 0, false
	}
	value, _, _ := strings.Cut(h.Value(), ";")
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// SessionTimerRefresher роль обновления из INVITE, по умолчанию uac
func SessionTimerRefresher(msg sip.Message) string {
	if se, ok := ParseSessionExpires(msg); ok {
		return se.Refresher
	}
	return RefresherUAC
}
