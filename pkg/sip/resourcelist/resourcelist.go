// Package resourcelist формирует и разбирает тела application/resource-lists+xml
// (RFC 4826, RFC 5364) для REFER к нескольким участникам и групповых INVITE.
package resourcelist

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// ContentType MIME тип списка ресурсов
const ContentType = "application/resource-lists+xml"

// Значения cp:copyControl
const (
	CopyTo  = "to"
	CopyCc  = "cc"
	CopyBcc = "bcc"
)

const crlf = "\r\n"

// Entry элемент списка
type Entry struct {
	URI         string `xml:"uri,attr"`
	CopyControl string `xml:"urn:ietf:params:xml:ns:copycontrol copyControl,attr,omitempty"`
	DisplayName string `xml:"display-name,omitempty"`
}

type document struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:resource-lists resource-lists"`
	Lists   []struct {
		Entries []Entry `xml:"entry"`
	} `xml:"list"`
}

// Generate строит список участников с cp:copyControl="to"
func Generate(uris []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(crlf)
	b.WriteString(`<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists" `)
	b.WriteString(`xmlns:cp="urn:ietf:params:xml:ns:copycontrol">`)
	b.WriteString("<list>")
	b.WriteString(crlf)
	for _, uri := range uris {
		b.WriteString(` <entry uri="`)
		b.WriteString(escape(uri))
		b.WriteString(`" cp:copyControl="`)
		b.WriteString(CopyTo)
		b.WriteString(`"/>`)
		b.WriteString(crlf)
	}
	b.WriteString("</list></resource-lists>")
	return b.String()
}

// Parse извлекает элементы всех списков документа
func Parse(body string) ([]Entry, error) {
	var doc document
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("resource-lists: %w", err)
	}
	var entries []Entry
	for _, l := range doc.Lists {
		for _, e := range l.Entries {
			if e.URI == "" {
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func escape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
