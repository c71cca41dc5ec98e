package mail

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

var htmlPolicy = newHTMLPolicy()

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("style").OnElements("span", "div", "p")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto", "cid")
	return p
}

// SanitizeHTML strips active content from a message body.
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}
	return htmlPolicy.Sanitize(html)
}

type mimeOptions struct {
	bcc bool
}

// MIMEOption adjusts BuildMIME.
type MIMEOption func(*mimeOptions)

// WithBccHeader writes the Bcc recipients into the header. Use it only for
// submission APIs that read recipients from the message and strip Bcc
// before delivery.
func WithBccHeader() MIMEOption {
	return func(o *mimeOptions) { o.bcc = true }
}

// BuildMIME composes an RFC 5322 message. When parent is set the message
// is a reply: the subject gets a "Re:" prefix and the threading headers
// point at the parent. Bcc is left out unless WithBccHeader is given.
func BuildMIME(from string, msg OutgoingMessage, parent *Message, now time.Time, opts ...MIMEOption) ([]byte, error) {
	var o mimeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var h gomail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*gomail.Address{{Address: from}})

	to, err := parseAddresses(msg.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)
	if len(msg.Cc) > 0 {
		cc, err := parseAddresses(msg.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}
	if o.bcc && len(msg.Bcc) > 0 {
		bcc, err := parseAddresses(msg.Bcc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Bcc", bcc)
	}

	subject := msg.Subject
	if parent != nil {
		subject = replySubject(parent.Subject, msg.Subject)
		if parent.MessageID != "" {
			h.SetMsgIDList("In-Reply-To", []string{parent.MessageID})
			h.SetMsgIDList("References", append(append([]string{}, parent.References...), parent.MessageID))
		}
	}
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline writer: %w", err)
	}
	if err := writeInlinePart(tw, "text/plain", textBody(msg)); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeInlinePart(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}

	return buf.Bytes(), nil
}

func writeInlinePart(tw *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func textBody(msg OutgoingMessage) string {
	if msg.Text != "" || msg.HTML == "" {
		return msg.Text
	}
	return StripHTML(msg.HTML)
}

func replySubject(parent, override string) string {
	if override != "" {
		return override
	}
	if strings.HasPrefix(strings.ToLower(parent), "re:") {
		return parent
	}
	return "Re: " + parent
}

func parseAddresses(list []string) ([]*gomail.Address, error) {
	out := make([]*gomail.Address, 0, len(list))
	for _, s := range list {
		addr, err := netmail.ParseAddress(s)
		if err != nil {
			return nil, &model.ValidationError{Field: "to", Message: fmt.Sprintf("invalid address %q", s)}
		}
		out = append(out, &gomail.Address{Name: addr.Name, Address: addr.Address})
	}
	return out, nil
}

// ParseMIME parses a raw message into normalized form. ID, flags and
// labels are left to the caller.
func ParseMIME(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	m := &Message{
		MessageID:  trimMsgID(env.GetHeader("Message-Id")),
		References: splitMsgIDs(env.GetHeader("References")),
		Subject:    env.GetHeader("Subject"),
		Text:       env.Text,
		HTML:       SanitizeHTML(env.HTML),
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		m.From = Address{Name: from[0].Name, Email: from[0].Address}
	}
	if to, err := env.AddressList("To"); err == nil {
		m.To = fromNetAddresses(to)
	}
	if cc, err := env.AddressList("Cc"); err == nil {
		m.Cc = fromNetAddresses(cc)
	}
	if date, err := env.Date(); err == nil {
		m.Date = date
	}
	m.Snippet = Snippet(m.Text, m.HTML)

	for _, part := range append(env.Attachments, env.Inlines...) {
		if part.FileName == "" {
			continue
		}
		m.Attachments = append(m.Attachments, Attachment{
			ID:          part.ContentID,
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
		})
	}

	return m, nil
}

// HeaderAddresses parses an address header value such as "A <a@x>, b@y".
func HeaderAddresses(value string) []Address {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	list, err := netmail.ParseAddressList(value)
	if err != nil {
		return []Address{{Email: strings.TrimSpace(value)}}
	}
	return fromNetAddresses(list)
}

func fromNetAddresses(list []*netmail.Address) []Address {
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Email: a.Address})
	}
	return out
}

func trimMsgID(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func splitMsgIDs(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if id := trimMsgID(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// StripHTML removes all markup.
func StripHTML(html string) string {
	return bluemonday.StrictPolicy().Sanitize(html)
}

// Snippet is a whitespace-collapsed preview of at most 255 bytes.
func Snippet(text, html string) string {
	if text == "" {
		text = StripHTML(html)
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 255 {
		text = strings.ToValidUTF8(text[:252], "") + "..."
	}
	return text
}
