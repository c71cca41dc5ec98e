package mail

import (
	"context"
	"time"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	DefaultFolder = "INBOX"
	DefaultLimit  = 20
	MaxLimit      = 100
)

// Credentials are the decrypted provider credentials of one account.
// Password marks AccessToken as a mailbox password rather than an OAuth
// access token.
type Credentials struct {
	Email        string
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
	Password     bool
}

type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment references a part of a message. Content is never loaded.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Message is a provider message in normalized form.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId,omitempty"`
	MessageID   string       `json:"messageId,omitempty"`
	References  []string     `json:"references,omitempty"`
	Subject     string       `json:"subject"`
	From        Address      `json:"from"`
	To          []Address    `json:"to,omitempty"`
	Cc          []Address    `json:"cc,omitempty"`
	Snippet     string       `json:"snippet,omitempty"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Date        time.Time    `json:"date"`
	Unread      bool         `json:"unread"`
	Labels      []string     `json:"labels,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Page is one page of a listing. NextCursor is empty on the last page.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListOptions selects a page of a folder listing or search.
type ListOptions struct {
	Folder string
	Query  string
	Cursor string
	Limit  int
}

// Normalize fills defaults and clamps the limit.
func (o ListOptions) Normalize() ListOptions {
	if o.Folder == "" {
		o.Folder = DefaultFolder
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	return o
}

// OutgoingMessage is a message to send or a reply body.
type OutgoingMessage struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// Recipients returns every envelope recipient.
func (m OutgoingMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Mailbox is the uniform operation set, bound to one account's credentials.
// Implementations report rejected credentials by wrapping
// model.ErrProviderUnauthorized.
type Mailbox interface {
	List(ctx context.Context, opts ListOptions) (*Page, error)
	Search(ctx context.Context, opts ListOptions) (*Page, error)
	Get(ctx context.Context, id string) (*Message, error)
	Send(ctx context.Context, msg OutgoingMessage) error
	Reply(ctx context.Context, id string, msg OutgoingMessage) error
	Trash(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	Move(ctx context.Context, id, folder string) error
	CreateFolder(ctx context.Context, name string) (*Folder, error)
}

// Factory binds a Mailbox to credentials.
type Factory func(ctx context.Context, creds Credentials) (Mailbox, error)

// Registry selects the Mailbox variant by the account's provider tag.
type Registry map[model.Provider]Factory

func (r Registry) Lookup(p model.Provider) (Factory, error) {
	f, ok := r[p]
	if !ok {
		return nil, &model.UnsupportedProviderError{Provider: string(p)}
	}
	return f, nil
}
