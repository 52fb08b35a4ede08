package resourcelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	body := Generate([]string{"tel:+33600000001", "sip:bob@example.com"})

	expected := `<?xml version="1.0" encoding="UTF-8"?>` + "\r\n" +
		`<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists" xmlns:cp="urn:ietf:params:xml:ns:copycontrol"><list>` + "\r\n" +
		` <entry uri="tel:+33600000001" cp:copyControl="to"/>` + "\r\n" +
		` <entry uri="sip:bob@example.com" cp:copyControl="to"/>` + "\r\n" +
		`</list></resource-lists>`
	assert.Equal(t, expected, body)
}

func TestGenerateParseRoundTrip(t *testing.T) {
	uris := []string{"tel:+33600000001", "sip:bob@example.com;user=phone&x=1", "tel:+33600000003"}

	entries, err := Parse(Generate(uris))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uris[i], e.URI)
		assert.Equal(t, CopyTo, e.CopyControl)
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("<resource-lists")
	assert.Error(t, err)

	entries, err := Parse(`<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists"><list><entry/></list></resource-lists>`)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
