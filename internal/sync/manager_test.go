package sync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IdrisKulubi/Student-Mail/internal/eventstore/sqlite"
	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

func TestSyncEmailsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: relevantMessages(3)}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), zaptest.NewLogger(t))

	first, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, &sync.SyncSummary{Synced: 3}, first)

	second, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, &sync.SyncSummary{Synced: 0, Errors: 0, Skipped: 3}, second)

	emails, err := store.List(ctx, userID, sqlite.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, emails, 3)

	pending, err := store.PendingOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestSyncEmailsScopesDedupPerUser(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: relevantMessages(2)}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

	for _, user := range []string{"alice", "bob", "alice"} {
		_, err := m.SyncEmails(ctx, user)
		require.NoError(t, err)
	}

	for _, user := range []string{"alice", "bob"} {
		emails, err := store.List(ctx, user, sqlite.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, emails, 2, user)
		for _, e := range emails {
			assert.Equal(t, user, e.UserID)
		}
	}
}

func TestSyncEmailsSkipsIrrelevant(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: []sync.RemoteMessage{
		remoteMessage("lunch", "friend@gmail.com", "Lunch?", "See you at noon"),
	}}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

	summary, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Synced)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Skipped)

	stored, err := store.FindByExternalID(ctx, userID, "lunch")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSyncEmailsCategoryPriority(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: []sync.RemoteMessage{
		remoteMessage("fair", "events@corp.com", "Job fair at the conference centre", "Bring your CV"),
	}}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

	_, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)

	stored, err := store.FindByExternalID(ctx, userID, "fair")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, sync.CategoryJobs, stored.Category)
}

func TestSyncEmailsCareerCenter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: []sync.RemoteMessage{
		remoteMessage("cc", `"Career Center" <jobs@university.edu>`, "Internship opportunity", "Apply now"),
	}}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

	summary, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)

	stored, err := store.FindByExternalID(ctx, userID, "cc")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.SenderName)
	assert.Equal(t, "Career Center", *stored.SenderName)
	assert.Equal(t, "jobs@university.edu", stored.SenderEmail)
	assert.Equal(t, sync.CategoryJobs, stored.Category)
	assert.Equal(t, userID, stored.UserID)
	assert.False(t, stored.IsRead)
	assert.False(t, stored.IsImportant)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), stored.ReceivedAt)
}

func TestSyncEmailsIsolatesPerMessageFailures(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)

	t.Run("insert failure", func(t *testing.T) {
		store := &failingStore{Store: base, failInsert: "m3"}
		provider := &fakeProvider{messages: relevantMessages(5)}
		m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), zaptest.NewLogger(t))

		summary, err := m.SyncEmails(ctx, "insert-user")
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Synced)
		assert.Equal(t, 1, summary.Errors)

		missing, err := base.FindByExternalID(ctx, "insert-user", "m3")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("bad internal date", func(t *testing.T) {
		messages := relevantMessages(5)
		messages[2].InternalDate = "not-a-date"
		provider := &fakeProvider{messages: messages}
		m := sync.NewManager(base, staticTokens("tok"), factoryFor(provider, nil), nil)

		summary, err := m.SyncEmails(ctx, "date-user")
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Synced)
		assert.Equal(t, 1, summary.Errors)
	})

	t.Run("panic", func(t *testing.T) {
		store := &failingStore{Store: base, panicLookup: "m2"}
		provider := &fakeProvider{messages: relevantMessages(3)}
		m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

		summary, err := m.SyncEmails(ctx, "panic-user")
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Synced)
		assert.Equal(t, 1, summary.Errors)
	})
}

func TestSyncEmailsEmptyList(t *testing.T) {
	store := newStore(t)
	provider := &fakeProvider{}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil)

	summary, err := m.SyncEmails(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, &sync.SyncSummary{}, summary)
}

func TestSyncEmailsNoCredentials(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: relevantMessages(1)}
	calls := 0
	observer := &fakeObserver{}
	m := sync.NewManager(store, staticTokens(""), factoryFor(provider, &calls), nil,
		sync.WithRunRecorder(store),
		sync.WithObserver(observer),
	)

	summary, err := m.SyncEmails(ctx, userID)
	require.ErrorIs(t, err, sync.ErrNoCredentials)
	assert.Nil(t, summary)
	assert.Zero(t, calls)
	assert.Zero(t, provider.fetchCount())

	run, err := store.LatestRun(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, sync.RunStatusNoCredentials, run.Status)

	require.Len(t, observer.runs, 1)
	assert.Equal(t, sync.RunStatusNoCredentials, observer.runs[0].status)
}

func TestSyncEmailsExplicitTokenWins(t *testing.T) {
	provider := &fakeProvider{}
	var got string
	factory := func(ctx context.Context, token string) (sync.MailProvider, error) {
		got = token
		return provider, nil
	}
	m := sync.NewManager(newStore(t), staticTokens("cached"), factory, nil)

	_, err := m.SyncEmails(context.Background(), userID, sync.WithToken("fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)

	_, err = m.SyncEmails(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "cached", got)
}

func TestSyncEmailsFetchFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{err: fmt.Errorf("list: %w", sync.ErrUnauthorized)}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil, sync.WithRunRecorder(store))

	summary, err := m.SyncEmails(ctx, userID)
	require.ErrorIs(t, err, sync.ErrUnauthorized)
	assert.Nil(t, summary)

	run, err := store.LatestRun(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, sync.RunStatusFailed, run.Status)
	assert.Contains(t, run.LastError, "rejected credentials")
	assert.Equal(t, sync.StateIdle, m.State(userID))
}

func TestSyncEmailsRecordsCompletedRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	provider := &fakeProvider{messages: relevantMessages(2)}
	observer := &fakeObserver{}
	m := sync.NewManager(store, staticTokens("tok"), factoryFor(provider, nil), nil,
		sync.WithRunRecorder(store),
		sync.WithObserver(observer),
		sync.WithMaxResults(1),
	)

	summary, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)

	run, err := store.LatestRun(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, sync.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Synced)
	assert.Empty(t, run.LastError)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	require.Len(t, observer.runs, 1)
	assert.Equal(t, sync.SyncSummary{Synced: 1}, observer.runs[0].summary)
}

func TestSyncEmailsConcurrentCallIsNoop(t *testing.T) {
	ctx := context.Background()
	started, release := make(chan struct{}), make(chan struct{})
	provider := &fakeProvider{
		messages: relevantMessages(1),
		started:  started,
		release:  release,
	}
	m := sync.NewManager(newStore(t), staticTokens("tok"), factoryFor(provider, nil), nil)

	type result struct {
		summary *sync.SyncSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.SyncEmails(ctx, userID)
		done <- result{s, err}
	}()

	<-started
	assert.Equal(t, sync.StateRunning, m.State(userID))

	summary, err := m.SyncEmails(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, summary)

	other, err := m.SyncEmails(ctx, "someone-else")
	require.NoError(t, err)
	require.NotNil(t, other)

	close(release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, 1, first.summary.Synced)
	assert.Equal(t, sync.StateIdle, m.State(userID))
	assert.Equal(t, 2, provider.fetchCount())
}

func TestMarkAsReadRemote(t *testing.T) {
	provider := &fakeProvider{}
	m := sync.NewManager(newStore(t), staticTokens("tok"), factoryFor(provider, nil), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	m.MarkAsReadRemote(ctx, userID, "m1")
	cancel()
	m.Wait()

	assert.Equal(t, []string{"m1"}, provider.markedIDs())
}

func TestMarkAsReadRemoteSwallowsFailures(t *testing.T) {
	provider := &fakeProvider{markErr: errors.New("quota exceeded")}
	m := sync.NewManager(newStore(t), staticTokens("tok"), factoryFor(provider, nil), zaptest.NewLogger(t))
	m.MarkAsReadRemote(context.Background(), userID, "m1")
	m.Wait()
	assert.Empty(t, provider.markedIDs())

	calls := 0
	noCreds := sync.NewManager(newStore(t), staticTokens(""), factoryFor(provider, &calls), nil)
	noCreds.MarkAsReadRemote(context.Background(), userID, "m1")
	noCreds.Wait()
	assert.Zero(t, calls)
}
