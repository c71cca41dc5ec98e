package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

const rawMessage = "From: Alice <alice@x.com>\r\n" +
	"To: me@x.com\r\n" +
	"Subject: Hello\r\n" +
	"Message-Id: <m1@x.com>\r\n" +
	"Date: Wed, 01 May 2024 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi there.\r\n"

type fakeGmail struct {
	mu       sync.Mutex
	requests []string
	sent     []*gmail.Message
	modified map[string]*gmail.ModifyMessageRequest
	labels   []*gmail.Label
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)

		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/")
		switch {
		case r.Method == http.MethodGet && path == "messages":
			writeJSON(t, w, map[string]any{
				"messages":      []map[string]string{{"id": "m1", "threadId": "t1"}},
				"nextPageToken": "page-2",
				"query":         r.URL.Query().Get("q"),
				"labels":        r.URL.Query()["labelIds"],
			})
		case r.Method == http.MethodGet && path == "messages/m1" && r.URL.Query().Get("format") == "metadata":
			writeJSON(t, w, map[string]any{
				"id":           "m1",
				"threadId":     "t1",
				"labelIds":     []string{"INBOX", "UNREAD"},
				"snippet":      "Hi &amp; welcome",
				"internalDate": "1714557600000",
				"payload": map[string]any{"headers": []map[string]string{
					{"name": "From", "value": "Alice <alice@x.com>"},
					{"name": "Reply-To", "value": "replies@x.com"},
					{"name": "To", "value": "me@x.com"},
					{"name": "Subject", "value": "Hello"},
					{"name": "Message-Id", "value": "<m1@x.com>"},
				}},
			})
		case r.Method == http.MethodGet && path == "messages/m1" && r.URL.Query().Get("format") == "raw":
			writeJSON(t, w, map[string]any{
				"id":       "m1",
				"threadId": "t1",
				"labelIds": []string{"INBOX"},
				"raw":      base64.URLEncoding.EncodeToString([]byte(rawMessage)),
			})
		case r.Method == http.MethodPost && path == "messages/send":
			var m gmail.Message
			require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			f.sent = append(f.sent, &m)
			writeJSON(t, w, map[string]any{"id": "sent-1", "threadId": m.ThreadId})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/modify"):
			var req gmail.ModifyMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if f.modified == nil {
				f.modified = make(map[string]*gmail.ModifyMessageRequest)
			}
			f.modified[strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/modify")] = &req
			writeJSON(t, w, map[string]any{"id": "m1"})
		case r.Method == http.MethodPost && path == "messages/m1/trash":
			writeJSON(t, w, map[string]any{"id": "m1", "labelIds": []string{"TRASH"}})
		case r.Method == http.MethodGet && path == "labels":
			writeJSON(t, w, map[string]any{"labels": f.labels})
		case r.Method == http.MethodPost && path == "labels":
			var l gmail.Label
			require.NoError(t, json.NewDecoder(r.Body).Decode(&l))
			l.Id = "Label_9"
			f.labels = append(f.labels, &l)
			writeJSON(t, w, l)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
		}
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestAdapter(t *testing.T, token string) (*Adapter, *fakeGmail) {
	t.Helper()
	fake := &fakeGmail{labels: []*gmail.Label{{Id: "Label_1", Name: "Receipts"}}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	a, err := New(context.Background(),
		mail.Credentials{Email: "me@x.com", AccessToken: token},
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC) }
	return a, fake
}

func TestAdapter_List(t *testing.T) {
	a, _ := newTestAdapter(t, "good")

	page, err := a.List(context.Background(), mail.ListOptions{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, "page-2", page.NextCursor)
	require.Len(t, page.Messages, 1)

	m := page.Messages[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "t1", m.ThreadID)
	assert.Equal(t, "Hello", m.Subject)
	assert.Equal(t, mail.Address{Name: "Alice", Email: "alice@x.com"}, m.From)
	assert.Equal(t, "Hi & welcome", m.Snippet)
	assert.True(t, m.Unread)
	assert.Equal(t, "m1@x.com", m.MessageID)
	assert.Equal(t, int64(1714557600000), m.Date.UnixMilli())
}

func TestAdapter_Get(t *testing.T) {
	a, _ := newTestAdapter(t, "good")

	m, err := a.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "Hello", m.Subject)
	assert.Contains(t, m.Text, "Hi there.")
	assert.False(t, m.Unread)
}

func TestAdapter_SendAndReply(t *testing.T) {
	a, fake := newTestAdapter(t, "good")
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, mail.OutgoingMessage{To: []string{"bob@y.com"}, Subject: "Hi", Text: "Body"}))
	require.NoError(t, a.Reply(ctx, "m1", mail.OutgoingMessage{Text: "Thanks"}))

	require.Len(t, fake.sent, 2)
	first, err := decodeRaw(fake.sent[0].Raw)
	require.NoError(t, err)
	assert.Contains(t, string(first), "Subject: Hi")
	assert.Empty(t, fake.sent[0].ThreadId)

	reply, err := decodeRaw(fake.sent[1].Raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", fake.sent[1].ThreadId)
	assert.Contains(t, string(reply), "Subject: Re: Hello")
	assert.Contains(t, string(reply), "In-Reply-To: <m1@x.com>")
	assert.Contains(t, string(reply), "replies@x.com")
}

func TestAdapter_SendKeepsBccRecipients(t *testing.T) {
	a, fake := newTestAdapter(t, "good")
	ctx := context.Background()

	out := mail.OutgoingMessage{To: []string{"bob@y.com"}, Bcc: []string{"carol@z.com"}, Subject: "Hi", Text: "Body"}
	require.NoError(t, a.Send(ctx, out))
	require.NoError(t, a.Reply(ctx, "m1", mail.OutgoingMessage{Bcc: []string{"dave@z.com"}, Text: "Thanks"}))

	require.Len(t, fake.sent, 2)
	raw, err := decodeRaw(fake.sent[0].Raw)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^Bcc: .*carol@z.com`, string(raw))

	raw, err = decodeRaw(fake.sent[1].Raw)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^Bcc: .*dave@z.com`, string(raw))
}

func TestAdapter_LabelOperations(t *testing.T) {
	a, fake := newTestAdapter(t, "good")
	ctx := context.Background()

	require.NoError(t, a.MarkRead(ctx, "m1"))
	assert.Equal(t, []string{"UNREAD"}, fake.modified["m1"].RemoveLabelIds)

	require.NoError(t, a.Move(ctx, "m2", "receipts"))
	assert.Equal(t, []string{"Label_1"}, fake.modified["m2"].AddLabelIds)
	assert.Equal(t, []string{"INBOX"}, fake.modified["m2"].RemoveLabelIds)

	require.NoError(t, a.Move(ctx, "m3", "inbox"))
	assert.Equal(t, []string{"INBOX"}, fake.modified["m3"].AddLabelIds)
	assert.Empty(t, fake.modified["m3"].RemoveLabelIds)

	err := a.Move(ctx, "m4", "Nowhere")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, a.Trash(ctx, "m1"))

	folder, err := a.CreateFolder(ctx, "Projects")
	require.NoError(t, err)
	assert.Equal(t, &mail.Folder{ID: "Label_9", Name: "Projects"}, folder)
}

func TestAdapter_UnauthorizedIsClassified(t *testing.T) {
	a, _ := newTestAdapter(t, "expired")

	_, err := a.List(context.Background(), mail.ListOptions{}.Normalize())
	assert.True(t, model.IsProviderUnauthorized(err))

	err = a.Trash(context.Background(), "m1")
	assert.True(t, model.IsProviderUnauthorized(err))
}

func TestAdapter_OtherErrorsAreNotUnauthorized(t *testing.T) {
	a, _ := newTestAdapter(t, "good")

	_, err := a.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.False(t, model.IsProviderUnauthorized(err))
}
