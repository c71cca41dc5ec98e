package mail

import (
	"context"
	"strings"
	"unicode"
)

// Summary is the result of summarizing one message.
type Summary struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Summary   string   `json:"summary"`
	Important bool     `json:"important"`
	Matched   []string `json:"matchedKeywords,omitempty"`
}

// Summarizer condenses a message. keywords are the account's merged
// important keywords.
type Summarizer interface {
	Summarize(ctx context.Context, msg *Message, keywords []string) (*Summary, error)
}

const (
	summarySentences = 3
	summaryMaxLen    = 500
)

// ExtractiveSummarizer keeps the leading sentences of the plain-text body.
type ExtractiveSummarizer struct{}

func (ExtractiveSummarizer) Summarize(_ context.Context, msg *Message, keywords []string) (*Summary, error) {
	body := msg.Text
	if body == "" {
		body = StripHTML(msg.HTML)
	}
	body = strings.Join(strings.Fields(stripQuoted(body)), " ")

	summary := strings.Join(leadingSentences(body, summarySentences), " ")
	if len(summary) > summaryMaxLen {
		summary = strings.ToValidUTF8(summary[:summaryMaxLen-3], "") + "..."
	}

	matched := matchKeywords(msg.Subject+" "+body, keywords)
	return &Summary{
		ID:        msg.ID,
		Subject:   msg.Subject,
		Summary:   summary,
		Important: len(matched) > 0,
		Matched:   matched,
	}, nil
}

// stripQuoted drops quoted reply lines.
func stripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func leadingSentences(text string, n int) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
		if len(out) == n {
			return out
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func matchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
