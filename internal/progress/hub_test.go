package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(stage Stage) Event {
	return Event{
		SessionID: "session-1",
		TS:        time.Now().UTC(),
		Stage:     stage,
		Directory: "/electronics",
		Level:     1,
		URL:       "https://shop.example.com/electronics",
	}
}

func TestHubFlushesOnClose(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxWait: time.Hour}, sink)

	hub.Emit(validEvent(StageDirectoryFound))
	hub.Emit(validEvent(StageDirectoryActive))
	hub.Emit(validEvent(StageDirectoryCompleted))

	require.NoError(t, hub.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, StageDirectoryFound, events[0].Stage)
	require.True(t, sink.closed)
}

func TestHubFlushesOnBatchSize(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatch: 2, MaxWait: time.Hour}, sink)
	defer hub.Close(context.Background())

	hub.Emit(validEvent(StageProductSaved))
	hub.Emit(validEvent(StageProductSaved))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageSessionStart})
	hub.Emit(Event{SessionID: "s", TS: time.Now(), Stage: "BOGUS"})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.snapshot())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageDirectoryFound))
	require.Empty(t, sink.snapshot())
}

func TestEventValidate(t *testing.T) {
	base := validEvent(StageDirectoryCompleted)
	require.NoError(t, base.Validate())

	missingDir := base
	missingDir.Directory = ""
	require.Error(t, missingDir.Validate())

	fetch := base
	fetch.Stage = StageFetchDone
	fetch.Directory = ""
	require.NoError(t, fetch.Validate())
	fetch.URL = ""
	require.Error(t, fetch.Validate())

	negative := base
	negative.Dur = -time.Second
	require.Error(t, negative.Validate())
}
