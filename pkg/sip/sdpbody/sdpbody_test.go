package sdpbody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSRPOfferRoundTrip(t *testing.T) {
	desc, err := NewMSRPOffer(OfferParams{
		Host:        "10.0.0.1",
		Port:        20000,
		Path:        "msrp://10.0.0.1:20000/s1;tcp",
		AcceptTypes: []string{"message/cpim", "application/im-iscomposing+xml"},
		MaxSize:     1024,
	})
	require.NoError(t, err)

	body, err := Marshal(desc)
	require.NoError(t, err)
	assert.Contains(t, body, "m=message 20000 TCP/MSRP *")
	assert.Contains(t, body, "a=setup:active")
	assert.Contains(t, body, "a=sendrecv")

	parsed, err := Validate(body)
	require.NoError(t, err)

	path, ok := MediaAttribute(parsed, "path")
	require.True(t, ok)
	assert.Equal(t, "msrp://10.0.0.1:20000/s1;tcp", path)

	types, ok := MediaAttribute(parsed, "accept-types")
	require.True(t, ok)
	assert.Equal(t, "message/cpim application/im-iscomposing+xml", types)

	size, ok := MediaAttribute(parsed, "max-size")
	require.True(t, ok)
	assert.Equal(t, "1024", size)
}

func TestMSRPOfferInvalidParams(t *testing.T) {
	_, err := NewMSRPOffer(OfferParams{Port: 5000})
	assert.Error(t, err)

	_, err = NewMSRPOffer(OfferParams{Host: "10.0.0.1", Port: 70000})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Validate("garbage")
	assert.Error(t, err)

	_, err = Validate("v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nt=0 0\r\n")
	assert.Error(t, err)

	desc, err := Validate("v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\n" +
		"m=message 9 TCP/MSRP *\r\na=accept-types:message/cpim\r\n")
	require.NoError(t, err)
	assert.Equal(t, "message", desc.MediaDescriptions[0].MediaName.Media)

	_, ok := MediaAttribute(nil, "path")
	assert.False(t, ok)
}
