package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
)

var (
	staff = modelChat.Identity{
		ID:          "staff-1",
		DisplayName: "Anna",
		Role:        modelChat.RoleBranchAdmin,
		GroupID:     "branch-1",
		GroupName:   "Central",
	}
	otherStaff = modelChat.Identity{
		ID:          "staff-2",
		DisplayName: "Dana",
		Role:        modelChat.RoleBranchAdmin,
		GroupID:     "branch-1",
		GroupName:   "Central",
	}
	customer = modelChat.Identity{
		ID:          "cust-1",
		DisplayName: "Bob",
		Role:        modelChat.RoleCustomer,
	}
)

// countingStore оборачивает хранилище в памяти: считает вызовы и умеет падать.
type countingStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	creates    int
	patches    int
	deletes    int
	failCreate error
	failQuery  map[string]error
	failPatch  map[string]error
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	mem := store.NewMemoryStore(nil, nil)
	t.Cleanup(mem.Close)
	return &countingStore{
		MemoryStore: mem,
		failQuery:   map[string]error{},
		failPatch:   map[string]error{},
	}
}

func (s *countingStore) Create(ctx context.Context, partition string, msg modelChat.Message) (modelChat.Message, error) {
	s.mu.Lock()
	s.creates++
	err := s.failCreate
	s.mu.Unlock()
	if err != nil {
		return modelChat.Message{}, err
	}
	return s.MemoryStore.Create(ctx, partition, msg)
}

func (s *countingStore) Patch(ctx context.Context, partition, id string, p store.Patch) error {
	s.mu.Lock()
	s.patches++
	err := s.failPatch[id]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Patch(ctx, partition, id, p)
}

func (s *countingStore) Delete(ctx context.Context, partition, id string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.MemoryStore.Delete(ctx, partition, id)
}

func (s *countingStore) Query(ctx context.Context, partition string, f store.Filter) ([]modelChat.Message, error) {
	s.mu.Lock()
	err := s.failQuery[partition]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Query(ctx, partition, f)
}

func (s *countingStore) calls() (creates, patches, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.patches, s.deletes
}

func newSession(t *testing.T, ch modelChat.Channel, viewer modelChat.Identity, st store.MessageStore) *Session {
	t.Helper()
	s, err := NewSession(ch, viewer, st, nil, Config{}, nil, nil)
	require.NoError(t, err)
	return s
}

func send(t *testing.T, s *Session, counterpartyID, body string) modelChat.Message {
	t.Helper()
	m, err := s.Send(context.Background(), SendInput{CounterpartyID: counterpartyID, Body: body})
	require.NoError(t, err)
	return m
}

// updates копит опубликованные последовательности открытой переписки.
type updates struct {
	mu   sync.Mutex
	seqs [][]modelChat.Message
	ch   chan struct{}
}

func newUpdates() *updates {
	return &updates{ch: make(chan struct{}, 1000)}
}

func (u *updates) on(msgs []modelChat.Message) {
	u.mu.Lock()
	u.seqs = append(u.seqs, msgs)
	u.mu.Unlock()
	select {
	case u.ch <- struct{}{}:
	default:
	}
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.seqs)
}

func (u *updates) waitFor(t *testing.T, cond func([]modelChat.Message) bool) []modelChat.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		u.mu.Lock()
		if n := len(u.seqs); n > 0 && cond(u.seqs[n-1]) {
			last := u.seqs[n-1]
			u.mu.Unlock()
			return last
		}
		u.mu.Unlock()
		select {
		case <-u.ch:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("ожидаемая последовательность не опубликована")
			return nil
		}
	}
}
