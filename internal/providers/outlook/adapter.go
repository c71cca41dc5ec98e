package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

const folderDeletedItems = "deleteditems"

// Graph well-known folder names that can be used in place of an id.
var wellKnownFolders = map[string]string{
	"inbox":        "inbox",
	"archive":      "archive",
	"drafts":       "drafts",
	"sentitems":    "sentitems",
	"sent":         "sentitems",
	"deleteditems": "deleteditems",
	"trash":        "deleteditems",
	"junkemail":    "junkemail",
	"junk":         "junkemail",
	"spam":         "junkemail",
}

var messageFields = []string{
	"id", "conversationId", "internetMessageId", "subject", "from", "toRecipients",
	"ccRecipients", "bodyPreview", "receivedDateTime", "isRead", "categories",
}

// Adapter is the Microsoft Graph Mailbox.
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
}

// New creates an adapter bound to creds. The access token is used as is;
// refreshing it is the caller's job.
func New(_ context.Context, creds mail.Credentials) (*Adapter, error) {
	client, err := NewGraphClient(creds.AccessToken, creds.Expiry)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Graph client.
func NewWithClient(client *msgraphsdk.GraphServiceClient) *Adapter {
	return &Adapter{client: client}
}

// Factory is the mail.Factory for Outlook.
func Factory(ctx context.Context, creds mail.Credentials) (mail.Mailbox, error) {
	return New(ctx, creds)
}

// NewGraphClient builds a Graph client authenticating with a fixed access token.
func NewGraphClient(accessToken string, expiry *time.Time) (*msgraphsdk.GraphServiceClient, error) {
	cred := &staticTokenCredential{token: accessToken, expiresOn: time.Now().Add(time.Hour)}
	if expiry != nil {
		cred.expiresOn = *expiry
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return client, nil
}

// List pages through a folder; the cursor is Graph's @odata.nextLink.
func (a *Adapter) List(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	folder := folderID(opts.Folder)
	builder := a.client.Me().MailFolders().ByMailFolderId(folder).Messages()

	var (
		result models.MessageCollectionResponseable
		err    error
	)
	if opts.Cursor != "" {
		result, err = builder.WithUrl(opts.Cursor).Get(ctx, nil)
	} else {
		result, err = builder.Get(ctx, &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
				Top:     Int32Ptr(int32(opts.Limit)),
				Select:  messageFields,
				Orderby: []string{"receivedDateTime desc"},
			},
		})
	}
	if err != nil {
		return nil, classify("list messages", err)
	}

	return toPage(result.GetValue(), result.GetOdataNextLink()), nil
}

func (a *Adapter) Search(ctx context.Context, opts mail.ListOptions) (*mail.Page, error) {
	builder := a.client.Me().Messages()

	var (
		result models.MessageCollectionResponseable
		err    error
	)
	if opts.Cursor != "" {
		result, err = builder.WithUrl(opts.Cursor).Get(ctx, nil)
	} else {
		search := fmt.Sprintf("%q", strings.ReplaceAll(opts.Query, `"`, ""))
		result, err = builder.Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
				Search: &search,
				Top:    Int32Ptr(int32(opts.Limit)),
				Select: messageFields,
			},
		})
	}
	if err != nil {
		return nil, classify("search messages", err)
	}

	return toPage(result.GetValue(), result.GetOdataNextLink()), nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*mail.Message, error) {
	m, err := a.client.Me().Messages().ByMessageId(id).Get(ctx, &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: append(append([]string{}, messageFields...), "body", "hasAttachments"),
			Expand: []string{"attachments($select=id,name,contentType,size)"},
		},
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("get message %s", id), err)
	}

	msg := normalizeOutlook(m)
	if body := m.GetBody(); body != nil {
		content := deref(body.GetContent())
		if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
			msg.HTML = mail.SanitizeHTML(content)
		} else {
			msg.Text = content
		}
	}
	for _, att := range m.GetAttachments() {
		ref := mail.Attachment{
			ID:          deref(att.GetId()),
			Filename:    deref(att.GetName()),
			ContentType: deref(att.GetContentType()),
		}
		if size := att.GetSize(); size != nil {
			ref.Size = int64(*size)
		}
		msg.Attachments = append(msg.Attachments, ref)
	}
	return &msg, nil
}

func (a *Adapter) Send(ctx context.Context, out mail.OutgoingMessage) error {
	body := users.NewItemSendMailPostRequestBody()
	body.SetMessage(buildMessage(out))
	save := true
	body.SetSaveToSentItems(&save)

	if err := a.client.Me().SendMail().Post(ctx, body, nil); err != nil {
		return classify("send message", err)
	}
	return nil
}

// Reply uses Graph's reply action, which threads and addresses the reply
// itself. Explicit recipients override the default.
func (a *Adapter) Reply(ctx context.Context, id string, out mail.OutgoingMessage) error {
	body := users.NewItemMessagesItemReplyPostRequestBody()
	comment := out.Text
	if out.HTML != "" {
		comment = out.HTML
	}
	body.SetComment(&comment)
	if len(out.To) > 0 || len(out.Cc) > 0 || out.Subject != "" {
		msg := models.NewMessage()
		if out.Subject != "" {
			msg.SetSubject(&out.Subject)
		}
		if len(out.To) > 0 {
			msg.SetToRecipients(recipients(out.To))
		}
		if len(out.Cc) > 0 {
			msg.SetCcRecipients(recipients(out.Cc))
		}
		body.SetMessage(msg)
	}

	if err := a.client.Me().Messages().ByMessageId(id).Reply().Post(ctx, body, nil); err != nil {
		return classify(fmt.Sprintf("reply to message %s", id), err)
	}
	return nil
}

func (a *Adapter) Trash(ctx context.Context, id string) error {
	return a.move(ctx, id, folderDeletedItems, "trash")
}

func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	patch := models.NewMessage()
	read := true
	patch.SetIsRead(&read)

	if _, err := a.client.Me().Messages().ByMessageId(id).Patch(ctx, patch, nil); err != nil {
		return classify(fmt.Sprintf("mark message %s read", id), err)
	}
	return nil
}

func (a *Adapter) Move(ctx context.Context, id, folder string) error {
	dest, err := a.resolveFolder(ctx, folder)
	if err != nil {
		return err
	}
	return a.move(ctx, id, dest, "move")
}

func (a *Adapter) move(ctx context.Context, id, dest, op string) error {
	body := users.NewItemMessagesItemMovePostRequestBody()
	body.SetDestinationId(&dest)

	if _, err := a.client.Me().Messages().ByMessageId(id).Move().Post(ctx, body, nil); err != nil {
		return classify(fmt.Sprintf("%s message %s", op, id), err)
	}
	return nil
}

func (a *Adapter) CreateFolder(ctx context.Context, name string) (*mail.Folder, error) {
	folder := models.NewMailFolder()
	folder.SetDisplayName(&name)

	created, err := a.client.Me().MailFolders().Post(ctx, folder, nil)
	if err != nil {
		return nil, classify(fmt.Sprintf("create folder %s", name), err)
	}
	return &mail.Folder{ID: deref(created.GetId()), Name: deref(created.GetDisplayName())}, nil
}

func (a *Adapter) resolveFolder(ctx context.Context, name string) (string, error) {
	if id, ok := wellKnownFolders[strings.ToLower(name)]; ok {
		return id, nil
	}

	filter := fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''"))
	result, err := a.client.Me().MailFolders().Get(ctx, &users.ItemMailFoldersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersRequestBuilderGetQueryParameters{
			Filter: &filter,
			Top:    Int32Ptr(1),
		},
	})
	if err != nil {
		return "", classify("list folders", err)
	}
	for _, f := range result.GetValue() {
		if id := f.GetId(); id != nil {
			return *id, nil
		}
	}
	return "", fmt.Errorf("folder %q: %w", name, model.ErrNotFound)
}

func folderID(name string) string {
	if name == "" {
		return "inbox"
	}
	if id, ok := wellKnownFolders[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

func toPage(messages []models.Messageable, next *string) *mail.Page {
	page := &mail.Page{Messages: make([]mail.Message, 0, len(messages)), NextCursor: deref(next)}
	for _, m := range messages {
		page.Messages = append(page.Messages, normalizeOutlook(m))
	}
	return page
}

// normalizeOutlook converts a Graph message to a message without body.
func normalizeOutlook(m models.Messageable) mail.Message {
	msg := mail.Message{
		ID:        deref(m.GetId()),
		ThreadID:  deref(m.GetConversationId()),
		MessageID: strings.Trim(deref(m.GetInternetMessageId()), "<>"),
		Subject:   deref(m.GetSubject()),
		Snippet:   deref(m.GetBodyPreview()),
		Labels:    m.GetCategories(),
		To:        extractAddresses(m.GetToRecipients()),
		Cc:        extractAddresses(m.GetCcRecipients()),
	}
	if from := m.GetFrom(); from != nil {
		if addrs := extractAddresses([]models.Recipientable{from}); len(addrs) > 0 {
			msg.From = addrs[0]
		}
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		msg.Date = *rcvd
	}
	if read := m.GetIsRead(); read != nil {
		msg.Unread = !*read
	}
	return msg
}

func extractAddresses(recipients []models.Recipientable) []mail.Address {
	var addrs []mail.Address
	for _, r := range recipients {
		if r == nil {
			continue
		}
		if emailAddr := r.GetEmailAddress(); emailAddr != nil {
			addrs = append(addrs, mail.Address{
				Name:  deref(emailAddr.GetName()),
				Email: deref(emailAddr.GetAddress()),
			})
		}
	}
	return addrs
}

func buildMessage(out mail.OutgoingMessage) models.Messageable {
	msg := models.NewMessage()
	msg.SetSubject(&out.Subject)

	body := models.NewItemBody()
	content, contentType := out.Text, models.TEXT_BODYTYPE
	if out.HTML != "" {
		content, contentType = out.HTML, models.HTML_BODYTYPE
	}
	body.SetContent(&content)
	body.SetContentType(&contentType)
	msg.SetBody(body)

	msg.SetToRecipients(recipients(out.To))
	if len(out.Cc) > 0 {
		msg.SetCcRecipients(recipients(out.Cc))
	}
	if len(out.Bcc) > 0 {
		msg.SetBccRecipients(recipients(out.Bcc))
	}
	return msg
}

func recipients(list []string) []models.Recipientable {
	out := make([]models.Recipientable, 0, len(list))
	for _, s := range list {
		for _, addr := range mail.HeaderAddresses(s) {
			email := models.NewEmailAddress()
			address := addr.Email
			email.SetAddress(&address)
			if addr.Name != "" {
				name := addr.Name
				email.SetName(&name)
			}
			r := models.NewRecipient()
			r.SetEmailAddress(email)
			out = append(out, r)
		}
	}
	return out
}

func classify(op string, err error) error {
	if statusCode(err) == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, model.ErrProviderUnauthorized)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func statusCode(err error) int {
	var oerr *odataerrors.ODataError
	if errors.As(err, &oerr) {
		return oerr.ResponseStatusCode
	}
	var apiErr *abstractions.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.ResponseStatusCode
	}
	return 0
}

// staticTokenCredential implements the Azure credential interface over a
// token obtained through our own OAuth flow.
type staticTokenCredential struct {
	token     string
	expiresOn time.Time
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: c.expiresOn,
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
