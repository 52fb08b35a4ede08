// Package featuretag кодирует и декодирует feature tags (RFC 3840)
// в заголовках Contact и Accept-Contact.
package featuretag

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Известные feature tags RCS/IMS
const (
	OMAIM         = "+g.oma.sip-im"
	OMAIMLarge    = "+g.oma.sip-im.large-message"
	VideoShare    = "+g.3gpp.cs-voice"
	IARIRef       = "+g.3gpp.iari-ref"
	ICSIRef       = "+g.3gpp.icsi-ref"
	SipAutomata   = "automata"
	GSMAExtPrefix = "+g.gsma.rcs."

	ImageShare   = IARIRef + `="urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is"`
	FileTransfer = IARIRef + `="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fthttp"`
	GeolocPush   = IARIRef + `="urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.geopush"`
	IPVoiceCall  = ICSIRef + `="urn%3Aurn-7%3A3gpp-service.ims.icsi.mmtel"`
	IPVideoCall  = IPVoiceCall + ";video"
)

// Параметры, извлекаемые из Accept-Contact
const (
	SipInstanceParam = "+sip.instance"
	PublicGruuParam  = "pub-gruu"
)

// Set упорядоченное множество feature tags без дубликатов.
// Нулевое значение готово к использованию.
type Set struct {
	tags []string
}

// NewSet создает множество, дубликаты схлопываются с сохранением
// порядка первого вхождения
func NewSet(tags ...string) *Set {
	s := &Set{}
	for _, t := range tags {
		s.Add(t)
	}
	return s
}

// Add добавляет тег. Возвращает false если тег уже был или пустой.
func (s *Set) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || s.Contains(tag) {
		return false
	}
	s.tags = append(s.tags, tag)
	return true
}

// Contains проверяет наличие тега
func (s *Set) Contains(tag string) bool {
	if s == nil {
		return false
	}
	return lo.Contains(s.tags, tag)
}

// Tags возвращает копию тегов в порядке добавления
func (s *Set) Tags() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.tags...)
}

// Len количество тегов
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tags)
}

// Equal сравнивает множества без учета порядка
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	a, b := s.Tags(), other.Tags()
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Uniq убирает пустые теги и дубликаты
func Uniq(tags []string) []string {
	tags = lo.Filter(tags, func(t string, _ int) bool { return strings.TrimSpace(t) != "" })
	return lo.Uniq(tags)
}

// splitTag разбивает тег вида name="value" на имя и значение
func splitTag(tag string) (string, string) {
	if i := strings.IndexByte(tag, '='); i > 0 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}
