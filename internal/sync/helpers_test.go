package sync_test

import (
	"context"
	"encoding/base64"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IdrisKulubi/Student-Mail/internal/eventstore/sqlite"
	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

const userID = "user-1"

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func remoteMessage(id, from, subject, body string) sync.RemoteMessage {
	return sync.RemoteMessage{
		ID:           id,
		ThreadID:     "thread-" + id,
		Snippet:      body,
		Headers:      []sync.Header{{Name: "From", Value: from}, {Name: "Subject", Value: subject}},
		Body:         &sync.MessageBody{Data: base64.RawURLEncoding.EncodeToString([]byte(body))},
		InternalDate: "1700000000000",
	}
}

func relevantMessages(n int) []sync.RemoteMessage {
	msgs := make([]sync.RemoteMessage, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, remoteMessage(
			fmt.Sprintf("m%d", i),
			fmt.Sprintf("Professor %d <prof%d@college.edu>", i, i),
			fmt.Sprintf("Assignment %d posted", i),
			"Due next week",
		))
	}
	return msgs
}

// fakeProvider serves a fixed message set.
type fakeProvider struct {
	mu       gosync.Mutex
	messages []sync.RemoteMessage
	err      error
	fetches  int
	marked   []string
	markErr  error

	// started and release, when set, block the first FetchRecent until release is closed.
	started chan struct{}
	release chan struct{}
}

func (p *fakeProvider) FetchRecent(ctx context.Context, maxResults int) ([]sync.RemoteMessage, error) {
	p.mu.Lock()
	p.fetches++
	started, release := p.started, p.release
	p.started, p.release = nil, nil
	p.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.messages[:min(len(p.messages), maxResults)], nil
}

func (p *fakeProvider) MarkAsRead(ctx context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.markErr != nil {
		return p.markErr
	}
	p.marked = append(p.marked, externalID)
	return nil
}

func (p *fakeProvider) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

func (p *fakeProvider) markedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.marked...)
}

// factoryFor returns a factory handing out p and counting calls.
func factoryFor(p *fakeProvider, calls *int) sync.ProviderFactory {
	var mu gosync.Mutex
	return func(ctx context.Context, token string) (sync.MailProvider, error) {
		mu.Lock()
		defer mu.Unlock()
		if calls != nil {
			*calls++
		}
		return p, nil
	}
}

// staticTokens resolves every user to the same cached token.
type staticTokens string

func (s staticTokens) ResolveToken(_ context.Context, _ string, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if s == "" {
		return "", sync.ErrNoCredentials
	}
	return string(s), nil
}

// failingStore fails or panics for chosen external ids.
type failingStore struct {
	sync.Store
	failInsert  string
	panicLookup string
}

func (s *failingStore) FindByExternalID(ctx context.Context, userID, externalID string) (*sync.Email, error) {
	if externalID == s.panicLookup {
		panic("lookup exploded")
	}
	return s.Store.FindByExternalID(ctx, userID, externalID)
}

func (s *failingStore) Insert(ctx context.Context, email *sync.Email) (*sync.Email, error) {
	if email.ExternalID == s.failInsert {
		return nil, fmt.Errorf("disk full")
	}
	return s.Store.Insert(ctx, email)
}

type observedRun struct {
	status  string
	summary sync.SyncSummary
	elapsed time.Duration
}

type fakeObserver struct {
	mu   gosync.Mutex
	runs []observedRun
}

func (o *fakeObserver) ObserveRun(status string, summary sync.SyncSummary, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, observedRun{status, summary, elapsed})
}
