package chathub_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tutorhub/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) AppendMessage(ctx context.Context, senderID, receiverID, text string) (*models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) GetHistory(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	args := m.Called(ctx, identityA, identityB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) GetCorrespondents(ctx context.Context, identity string) ([]string, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) SavePresence(ctx context.Context, record models.PresenceRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStorage) GetPresence(ctx context.Context, identity string) (*models.PresenceRecord, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PresenceRecord), args.Error(1)
}

func (m *MockStorage) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

// MockClient is an in-memory Client whose outbound queue the test reads.
type MockClient struct {
	Recv   chan models.Envelope
	closed atomic.Int32
}

func newMockClient(queue int) *MockClient {
	return &MockClient{Recv: make(chan models.Envelope, queue)}
}

func (c *MockClient) GetSendChannel() chan<- models.Envelope { return c.Recv }

func (c *MockClient) Run() {}

func (c *MockClient) Close() { c.closed.Add(1) }

func (c *MockClient) CloseCount() int { return int(c.closed.Load()) }

// next waits for the next envelope of type typ, discarding others.
func (c *MockClient) next(t *testing.T, typ string) models.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Recv:
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q envelope", typ)
			return models.Envelope{}
		}
	}
}

// collect waits until one envelope of each type has arrived, in any
// order, and returns them by type.
func (c *MockClient) collect(t *testing.T, types ...string) map[string]models.Envelope {
	t.Helper()
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}
	got := make(map[string]models.Envelope, len(types))
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case env := <-c.Recv:
			if want[env.Type] {
				if _, dup := got[env.Type]; !dup {
					got[env.Type] = env
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v, got %v", types, got)
		}
	}
	return got
}

// none asserts that no envelope of type typ arrives within a short window.
func (c *MockClient) none(t *testing.T, typ string) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case env := <-c.Recv:
			if env.Type == typ {
				t.Fatalf("unexpected %q envelope: %+v", typ, env)
			}
		case <-timeout:
			return
		}
	}
}
