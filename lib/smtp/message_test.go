package smtp

import (
	"bytes"
	"io"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	contentType string
	body        string
}

func readParts(t *testing.T, raw []byte) (*mail.Reader, []part) {
	t.Helper()
	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	var parts []part
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		h, ok := p.Header.(*mail.InlineHeader)
		require.True(t, ok, "expected inline parts only")
		ct, _, err := h.ContentType()
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		parts = append(parts, part{contentType: ct, body: string(body)})
	}
	return r, parts
}

func TestMessage_BothAlternatives(t *testing.T) {
	msg := &Message{
		From:    "relay@example.com",
		To:      "a@b.com",
		Subject: "Hi",
		Text:    "hello",
		HTML:    "<p>hello</p>",
	}
	raw, err := msg.Bytes()
	require.NoError(t, err)

	r, parts := readParts(t, raw)
	ct, _, err := r.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", ct)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Hi", subject)

	from, err := r.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "relay@example.com", from[0].Address)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "a@b.com", to[0].Address)

	require.Len(t, parts, 2)
	assert.Equal(t, part{"text/plain", "hello"}, parts[0])
	assert.Equal(t, part{"text/html", "<p>hello</p>"}, parts[1])
}

func TestMessage_SingleAlternative(t *testing.T) {
	raw, err := (&Message{From: "relay@example.com", To: "a@b.com", Subject: "Hi", HTML: "<b>only</b>"}).Bytes()
	require.NoError(t, err)

	_, parts := readParts(t, raw)
	require.Len(t, parts, 1)
	assert.Equal(t, "text/html", parts[0].contentType)

	raw, err = (&Message{From: "relay@example.com", To: "a@b.com", Subject: "Hi", Text: "plain"}).Bytes()
	require.NoError(t, err)

	_, parts = readParts(t, raw)
	require.Len(t, parts, 1)
	assert.Equal(t, part{"text/plain", "plain"}, parts[0])
}

func TestMessage_NonASCIIBody(t *testing.T) {
	raw, err := (&Message{From: "relay@example.com", To: "a@b.com", Subject: "Grüße", Text: "Größe: 5 €"}).Bytes()
	require.NoError(t, err)

	r, parts := readParts(t, raw)
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Grüße", subject)
	require.Len(t, parts, 1)
	assert.Equal(t, "Größe: 5 €", parts[0].body)
}

func TestMessage_NoRecipient(t *testing.T) {
	_, err := (&Message{Subject: "Hi", Text: "x"}).Bytes()
	assert.ErrorIs(t, err, ErrNoRecipient)
}
