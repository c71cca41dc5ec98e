package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseMIME(t *testing.T) {
	raw, err := BuildMIME("me@x.com", OutgoingMessage{
		To:      []string{"Bob <bob@y.com>"},
		Cc:      []string{"carol@y.com"},
		Subject: "Quarterly numbers",
		Text:    "See attached.",
		HTML:    "<p>See <b>attached</b>.</p><script>alert(1)</script>",
	}, nil, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	msg, err := ParseMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", msg.Subject)
	assert.Equal(t, "me@x.com", msg.From.Email)
	require.Len(t, msg.To, 1)
	assert.Equal(t, Address{Name: "Bob", Email: "bob@y.com"}, msg.To[0])
	assert.Equal(t, "carol@y.com", msg.Cc[0].Email)
	assert.Contains(t, msg.Text, "See attached.")
	assert.Contains(t, msg.HTML, "<b>attached</b>")
	assert.NotContains(t, msg.HTML, "script")
	assert.NotEmpty(t, msg.MessageID)
	assert.True(t, msg.Date.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestBuildMIME_Reply(t *testing.T) {
	parent := &Message{Subject: "Lunch?", MessageID: "abc@x.com", References: []string{"root@x.com"}}

	raw, err := BuildMIME("me@x.com", OutgoingMessage{To: []string{"a@x.com"}, Text: "Sure"}, parent, time.Now())
	require.NoError(t, err)

	msg, err := ParseMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "Re: Lunch?", msg.Subject)
	assert.Equal(t, []string{"root@x.com", "abc@x.com"}, msg.References)
	assert.Contains(t, string(raw), "In-Reply-To: <abc@x.com>")
}

func TestBuildMIME_Bcc(t *testing.T) {
	out := OutgoingMessage{To: []string{"bob@y.com"}, Bcc: []string{"carol@z.com"}, Text: "hi"}

	raw, err := BuildMIME("me@x.com", out, nil, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "carol@z.com")

	raw, err = BuildMIME("me@x.com", out, nil, time.Now(), WithBccHeader())
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^Bcc: .*carol@z.com`, string(raw))

	_, err = BuildMIME("me@x.com", OutgoingMessage{To: []string{"bob@y.com"}, Bcc: []string{"nope"}, Text: "x"}, nil, time.Now(), WithBccHeader())
	assert.Error(t, err)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hi", replySubject("Hi", ""))
	assert.Equal(t, "RE: Hi", replySubject("RE: Hi", ""))
	assert.Equal(t, "Custom", replySubject("Hi", "Custom"))
}

func TestBuildMIME_InvalidRecipient(t *testing.T) {
	_, err := BuildMIME("me@x.com", OutgoingMessage{To: []string{"not an address"}, Text: "x"}, nil, time.Now())
	assert.Error(t, err)
}

func TestParseMIME_Attachments(t *testing.T) {
	raw := strings.ReplaceAll(`From: Alice <alice@x.com>
To: bob@y.com
Subject: Report
Message-Id: <r1@x.com>
Date: Wed, 01 May 2024 10:00:00 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

Report attached.
--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--b1--
`, "\n", "\r\n")

	msg, err := ParseMIME([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "r1@x.com", msg.MessageID)
	assert.Equal(t, Address{Name: "Alice", Email: "alice@x.com"}, msg.From)
	assert.Equal(t, "Report attached.", strings.TrimSpace(msg.Text))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, int64(9), msg.Attachments[0].Size)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "hello world", Snippet("  hello\n\n world ", ""))
	assert.Equal(t, "from html", Snippet("", "<p>from <i>html</i></p>"))

	long := Snippet(strings.Repeat("a", 300), "")
	assert.Len(t, long, 255)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestHeaderAddresses(t *testing.T) {
	got := HeaderAddresses(`"Doe, Jane" <jane@x.com>, bob@y.com`)
	assert.Equal(t, []Address{{Name: "Doe, Jane", Email: "jane@x.com"}, {Email: "bob@y.com"}}, got)
	assert.Nil(t, HeaderAddresses(" "))
}

func TestExtractiveSummarizer(t *testing.T) {
	msg := &Message{
		ID:      "m1",
		Subject: "Status",
		Text:    "First point. Second point! Third point? Fourth point.\n> quoted urgent text",
	}

	sum, err := ExtractiveSummarizer{}.Summarize(context.Background(), msg, []string{"urgent", "meeting"})
	require.NoError(t, err)
	assert.Equal(t, "First point. Second point! Third point?", sum.Summary)
	assert.False(t, sum.Important)

	msg.Text = "Can we schedule a Meeting tomorrow"
	sum, err = ExtractiveSummarizer{}.Summarize(context.Background(), msg, []string{"urgent", "meeting"})
	require.NoError(t, err)
	assert.Equal(t, "Can we schedule a Meeting tomorrow", sum.Summary)
	assert.Equal(t, []string{"meeting"}, sum.Matched)
}
