package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	me = "me"

	labelInbox  = "INBOX"
	labelUnread = "UNREAD"
)

// Gmail has labels, not folders. These are the system label ids a folder
// name may refer to directly.
var systemLabels = map[string]string{
	"INBOX":     "INBOX",
	"SENT":      "SENT",
	"TRASH":     "TRASH",
	"SPAM":      "SPAM",
	"DRAFT":     "DRAFT",
	"DRAFTS":    "DRAFT",
	"STARRED":   "STARRED",
	"IMPORTANT": "IMPORTANT",
}

var metadataHeaders = []string{"From", "To", "Cc", "Subject", "Date", "Message-Id", "References", "Reply-To"}

// Adapter is the Gmail Mailbox.
type Adapter struct {
	svc  *gmail.Service
	from string
	now  func() time.Time
}

// New creates an adapter bound to creds. The access token is used as is;
// refreshing it is the caller's job.
func New(ctx context.Context, creds mail.Credentials, opts ...option.ClientOption) (*Adapter, error) {
	tok := &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}
	clientOpts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, opts...)

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{svc: svc, from: creds.Email, now: time.Now}, nil
}

// Factory returns a mail.Factory creating Gmail adapters with opts.
func Factory(opts ...option.ClientOption) mail.Factory {
	return func(ctx context.Context, creds mail.Credentials) (mail.Mailbox, error) {
		return New(ctx, creds, opts...)
	}
}

func (a *Adapter) List(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	label, err := a.resolveLabel(ctx, opts.Folder)
	if err != nil {
		return nil, err
	}

	call := a.svc.Users.Messages.List(me).LabelIds(label).MaxResults(int64(opts.Limit))
	if opts.Cursor != "" {
		call = call.PageToken(opts.Cursor)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify("list messages", err)
	}

	return a.page(ctx, resp)
}

func (a *Adapter) Search(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	call := a.svc.Users.Messages.List(me).Q(opts.Query).MaxResults(int64(opts.Limit))
	if opts.Cursor != "" {
		call = call.PageToken(opts.Cursor)
	}
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify("search messages", err)
	}

	return a.page(ctx, resp)
}

func (a *Adapter) page(ctx context.Context, resp *gmail.ListMessagesResponse) (*mail.Page, error) {
	page := &mail.Page{Messages: make([]mail.Message, 0, len(resp.Messages)), NextCursor: resp.NextPageToken}
	for _, m := range resp.Messages {
		meta, err := a.metadata(ctx, m.Id)
		if err != nil {
			return nil, err
		}
		page.Messages = append(page.Messages, normalize(meta))
	}
	return page, nil
}

func (a *Adapter) metadata(ctx context.Context, id string) (*gmail.Message, error) {
	meta, err := a.svc.Users.Messages.Get(me, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get message %s", id), err)
	}
	return meta, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*mail.Message, error) {
	m, err := a.svc.Users.Messages.Get(me, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("get message %s", id), err)
	}

	raw, err := decodeRaw(m.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}

	msg, err := mail.ParseMIME(raw)
	if err != nil {
		return nil, err
	}
	msg.ID = m.Id
	msg.ThreadID = m.ThreadId
	msg.Labels = m.LabelIds
	msg.Unread = slices.Contains(m.LabelIds, labelUnread)
	if msg.Date.IsZero() {
		msg.Date = time.UnixMilli(m.InternalDate)
	}
	return msg, nil
}

// Send submits out as a raw message. Gmail takes the recipients from the
// headers, Bcc included, and strips Bcc before delivery.
func (a *Adapter) Send(ctx context.Context, out mail.OutgoingMessage) error {
	raw, err := mail.BuildMIME(a.from, out, nil, a.now(), mail.WithBccHeader())
	if err != nil {
		return err
	}

	_, err = a.svc.Users.Messages.Send(me, &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}).Context(ctx).Do()
	if err != nil {
		return classify("send message", err)
	}
	return nil
}

// Reply sends out in the parent's thread. Without explicit recipients it
// goes to the parent's Reply-To, or its sender.
func (a *Adapter) Reply(ctx context.Context, id string, out mail.OutgoingMessage) error {
	meta, err := a.metadata(ctx, id)
	if err != nil {
		return err
	}
	parent := normalize(meta)
	if len(out.To) == 0 {
		out.To = replyRecipients(meta)
	}

	raw, err := mail.BuildMIME(a.from, out, &parent, a.now(), mail.WithBccHeader())
	if err != nil {
		return err
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw), ThreadId: meta.ThreadId}
	if _, err := a.svc.Users.Messages.Send(me, msg).Context(ctx).Do(); err != nil {
		return classify("reply to message", err)
	}
	return nil
}

func (a *Adapter) Trash(ctx context.Context, id string) error {
	if _, err := a.svc.Users.Messages.Trash(me, id).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("trash message %s", id), err)
	}
	return nil
}

func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := a.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("mark message %s read", id), err)
	}
	return nil
}

// Move adds the folder's label and removes INBOX, which is what moving
// out of the inbox means in Gmail.
func (a *Adapter) Move(ctx context.Context, id, folder string) error {
	label, err := a.resolveLabel(ctx, folder)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{label}}
	if label != labelInbox {
		req.RemoveLabelIds = []string{labelInbox}
	}
	if _, err := a.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("move message %s", id), err)
	}
	return nil
}

func (a *Adapter) CreateFolder(ctx context.Context, name string) (*mail.Folder, error) {
	label, err := a.svc.Users.Labels.Create(me, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("create label %s", name), err)
	}
	return &mail.Folder{ID: label.Id, Name: label.Name}, nil
}

func (a *Adapter) resolveLabel(ctx context.Context, folder string) (string, error) {
	if folder == "" {
		return labelInbox, nil
	}
	if id, ok := systemLabels[strings.ToUpper(folder)]; ok {
		return id, nil
	}

	resp, err := a.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return "", classify("list labels", err)
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, folder) || l.Id == folder {
			return l.Id, nil
		}
	}
	return "", fmt.Errorf("label %q: %w", folder, model.ErrNotFound)
}

// normalize converts Gmail metadata to a message without body.
func normalize(m *gmail.Message) mail.Message {
	headers := make(map[string]string)
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			headers[strings.ToLower(kv.Name)] = kv.Value
		}
	}

	from := mail.HeaderAddresses(headers["from"])
	msg := mail.Message{
		ID:         m.Id,
		ThreadID:   m.ThreadId,
		MessageID:  strings.Trim(headers["message-id"], "<> "),
		References: strings.Fields(strings.NewReplacer("<", "", ">", "").Replace(headers["references"])),
		Subject:    headers["subject"],
		To:         mail.HeaderAddresses(headers["to"]),
		Cc:         mail.HeaderAddresses(headers["cc"]),
		Snippet:    html.UnescapeString(m.Snippet),
		Date:       time.UnixMilli(m.InternalDate),
		Unread:     slices.Contains(m.LabelIds, labelUnread),
		Labels:     m.LabelIds,
	}
	if len(from) > 0 {
		msg.From = from[0]
	}
	return msg
}

func replyRecipients(m *gmail.Message) []string {
	var replyTo, from string
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			switch strings.ToLower(kv.Name) {
			case "reply-to":
				replyTo = kv.Value
			case "from":
				from = kv.Value
			}
		}
	}
	src := replyTo
	if src == "" {
		src = from
	}
	var out []string
	for _, addr := range mail.HeaderAddresses(src) {
		out = append(out, addr.Email)
	}
	return out
}

func decodeRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, model.ErrProviderUnauthorized)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
