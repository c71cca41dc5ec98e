package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	StreamName = "ACCOUNT_EVENTS"

	EventWelcome = "account.welcome"
	EventDeleted = "account.deleted"
)

// Event is the JSON payload of every account event.
type Event struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"accountId"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Subject is "user.<account id>.<event type>".
func Subject(accountID uuid.UUID, eventType string) string {
	return fmt.Sprintf("user.%s.%s", accountID, eventType)
}

// MsgID is the JetStream dedup id, e.g. "welcome|<account id>".
func MsgID(eventType string, accountID uuid.UUID) string {
	return strings.TrimPrefix(eventType, "account.") + "|" + accountID.String()
}

// Publisher wraps NATS JetStream for publishing account events
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	now func() time.Time
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("mail-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js, now: time.Now}, nil
}

// EnsureStream ensures the ACCOUNT_EVENTS stream exists. Its duplicate
// window drops republished events with the same message id.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	info, err := p.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil && info != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"user.*.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// NotifyWelcome publishes the first-login event.
func (p *Publisher) NotifyWelcome(ctx context.Context, a *model.Account) error {
	return p.publish(ctx, EventWelcome, Event{
		AccountID: a.ID.String(),
		Email:     a.Email,
		Name:      a.Name,
		Provider:  string(a.AuthProvider),
	})
}

// AccountDeleted publishes the hard-delete event.
func (p *Publisher) AccountDeleted(ctx context.Context, id uuid.UUID, email string) error {
	return p.publish(ctx, EventDeleted, Event{AccountID: id.String(), Email: email})
}

func (p *Publisher) publish(ctx context.Context, eventType string, ev Event) error {
	ev.Type = eventType
	ev.OccurredAt = p.now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	id, err := uuid.Parse(ev.AccountID)
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", ev.AccountID, err)
	}

	msg := nats.NewMsg(Subject(id, eventType))
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, MsgID(eventType, id))

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
