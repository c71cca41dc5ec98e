package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

type fakeJetStream struct {
	nats.JetStreamContext
	streams   map[string]*nats.StreamConfig
	published []*nats.Msg
	seen      map[string]bool
	addErr    error
}

func newFakeJetStream() *fakeJetStream {
	return &fakeJetStream{streams: map[string]*nats.StreamConfig{}, seen: map[string]bool{}}
}

func (f *fakeJetStream) StreamInfo(name string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	cfg, ok := f.streams[name]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

// PublishMsg mimics the stream's duplicate window.
func (f *fakeJetStream) PublishMsg(m *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	id := m.Header.Get(nats.MsgIdHdr)
	if f.seen[id] {
		return &nats.PubAck{Stream: StreamName, Duplicate: true}, nil
	}
	f.seen[id] = true
	f.published = append(f.published, m)
	return &nats.PubAck{Stream: StreamName, Sequence: uint64(len(f.published))}, nil
}

func newTestPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js, now: func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestEnsureStream(t *testing.T) {
	js := newFakeJetStream()
	p := newTestPublisher(js)

	require.NoError(t, p.EnsureStream(context.Background()))
	cfg := js.streams[StreamName]
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"user.*.>"}, cfg.Subjects)
	assert.Equal(t, 10*time.Minute, cfg.Duplicates)

	js.addErr = errors.New("boom")
	require.NoError(t, p.EnsureStream(context.Background()), "existing stream is reused")

	delete(js.streams, StreamName)
	js.addErr = nats.ErrStreamNameAlreadyInUse
	require.NoError(t, p.EnsureStream(context.Background()))

	js.addErr = errors.New("boom")
	assert.Error(t, p.EnsureStream(context.Background()))
}

func TestNotifyWelcome(t *testing.T) {
	js := newFakeJetStream()
	p := newTestPublisher(js)
	a := model.NewAccount("ada@x.com", "Ada", model.ProviderGoogle, time.Now())

	require.NoError(t, p.NotifyWelcome(context.Background(), a))
	require.NoError(t, p.NotifyWelcome(context.Background(), a))
	require.Len(t, js.published, 1, "duplicate publish is dropped by the stream")

	msg := js.published[0]
	assert.Equal(t, "user."+a.ID.String()+".account.welcome", msg.Subject)
	assert.Equal(t, "welcome|"+a.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, EventWelcome, ev.Type)
	assert.Equal(t, "ada@x.com", ev.Email)
	assert.Equal(t, "google", ev.Provider)
	assert.Equal(t, 2024, ev.OccurredAt.Year())
}

func TestAccountDeleted(t *testing.T) {
	js := newFakeJetStream()
	id := uuid.New()

	require.NoError(t, newTestPublisher(js).AccountDeleted(context.Background(), id, "ada@x.com"))
	require.Len(t, js.published, 1)
	assert.Equal(t, Subject(id, EventDeleted), js.published[0].Subject)
	assert.Equal(t, "deleted|"+id.String(), js.published[0].Header.Get(nats.MsgIdHdr))
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(logger.Noop())
	a := model.NewAccount("ada@x.com", "Ada", model.ProviderGoogle, time.Now())

	assert.NoError(t, s.NotifyWelcome(context.Background(), a))
	assert.NoError(t, s.AccountDeleted(context.Background(), a.ID, a.Email))
}
