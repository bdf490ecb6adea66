package smtp

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Message is a single-recipient email ready to hand to a Transport.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Bytes renders the message as a multipart/alternative document. The text
// part is written first and the HTML part last, so clients prefer HTML.
func (m *Message) Bytes() ([]byte, error) {
	if m.To == "" {
		return nil, ErrNoRecipient
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if m.Text != "" {
		if err := writePart(w, "text/plain", m.Text); err != nil {
			return nil, err
		}
	}
	if m.HTML != "" {
		if err := writePart(w, "text/html", m.HTML); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, content string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, content); err != nil {
		pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}
