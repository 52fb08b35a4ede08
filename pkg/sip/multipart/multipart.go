// Package multipart разбирает и собирает multipart/mixed тела SIP сообщений
// (SDP + resource-lists, SDP + CPIM).
package multipart

import (
	"errors"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// ContentTypeMixed базовый тип multipart тела
const ContentTypeMixed = "multipart/mixed"

// ErrNotMultipart тело не содержит ни одной извлекаемой части
var ErrNotMultipart = errors.New("multipart: body has no parts")

// Header заголовок части
type Header struct {
	Name  string
	Value string
}

// Part одна часть multipart тела
type Part struct {
	ContentType string
	Headers     []Header
	Content     string
}

// Body разобранное multipart тело. Части доступны в исходном порядке
// и по MIME типу в нижнем регистре.
type Body struct {
	parts  []Part
	byType map[string]Part
}

// Parts части в порядке следования
func (b *Body) Parts() []Part {
	return append([]Part(nil), b.parts...)
}

// Len количество частей
func (b *Body) Len() int {
	return len(b.parts)
}

// Part возвращает содержимое части по MIME типу (регистр не важен)
func (b *Body) Part(mimeType string) (string, bool) {
	p, ok := b.byType[strings.ToLower(mimeType)]
	if !ok {
		return "", false
	}
	return p.Content, true
}

// Parse разбирает тело по разделителю --boundary.
// Для каждой части заголовки отделяются первой пустой строкой,
// у содержимого срезается один завершающий CRLF.
func Parse(body, boundary string) (*Body, error) {
	if boundary == "" {
		return nil, ErrNotMultipart
	}
	delimiter := "--" + boundary
	result := &Body{byType: make(map[string]Part)}

	for _, fragment := range strings.Split(body, delimiter) {
		if strings.HasPrefix(fragment, "--") {
			// закрывающий разделитель
			break
		}
		fragment = strings.TrimPrefix(fragment, crlf)
		idx := strings.Index(fragment, crlf+crlf)
		if idx < 0 {
			continue
		}
		part := Part{
			Headers: parseHeaders(fragment[:idx]),
			Content: strings.TrimSuffix(fragment[idx+4:], crlf),
		}
		for _, h := range part.Headers {
			if strings.EqualFold(h.Name, "Content-Type") {
				part.ContentType = mimeType(h.Value)
				break
			}
		}
		result.parts = append(result.parts, part)
		if _, exists := result.byType[part.ContentType]; !exists {
			result.byType[part.ContentType] = part
		}
	}

	if len(result.parts) == 0 {
		return nil, ErrNotMultipart
	}
	return result, nil
}

// Build собирает тело из частей. Content-Type и Content-Length
// каждой части проставляются автоматически.
func Build(boundary string, parts ...Part) string {
	var b strings.Builder
	delimiter := "--" + boundary
	for _, p := range parts {
		b.WriteString(delimiter)
		b.WriteString(crlf)
		b.WriteString("Content-Type: ")
		b.WriteString(p.ContentType)
		b.WriteString(crlf)
		for _, h := range p.Headers {
			if strings.EqualFold(h.Name, "Content-Type") || strings.EqualFold(h.Name, "Content-Length") {
				continue
			}
			b.WriteString(h.Name)
			b.WriteString(": ")
			b.WriteString(h.Value)
			b.WriteString(crlf)
		}
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(p.Content)))
		b.WriteString(crlf)
		b.WriteString(crlf)
		b.WriteString(p.Content)
		b.WriteString(crlf)
	}
	b.WriteString(delimiter)
	b.WriteString("--")
	return b.String()
}

// ContentType значение заголовка Content-Type для multipart тела
func ContentType(boundary string) string {
	return ContentTypeMixed + "; boundary=" + boundary
}

// BoundaryFromContentType извлекает параметр boundary
func BoundaryFromContentType(contentType string) (string, bool) {
	params := strings.Split(contentType, ";")
	if !strings.EqualFold(strings.TrimSpace(params[0]), ContentTypeMixed) {
		return "", false
	}
	for _, p := range params[1:] {
		name, value, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "boundary") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value != "" {
			return value, true
		}
	}
	return "", false
}

func parseHeaders(block string) []Header {
	var headers []Header
	for _, line := range strings.Split(block, crlf) {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers = append(headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return headers
}

func mimeType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
