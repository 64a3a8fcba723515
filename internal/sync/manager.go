package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// markReadTimeout bounds the background mark-as-read call.
const markReadTimeout = 10 * time.Second

// RunState is the sync state of a single user.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxResults overrides the remote window size per run.
func WithMaxResults(n int) ManagerOption {
	return func(m *Manager) { m.maxResults = n }
}

// WithRunRecorder records each finished run.
func WithRunRecorder(r RunRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithObserver reports each finished run to o.
func WithObserver(o RunObserver) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// SyncOption tunes a single SyncEmails call.
type SyncOption func(*syncOptions)

type syncOptions struct {
	token string
}

// WithToken supplies a freshly obtained token that takes priority over any cached one.
func WithToken(token string) SyncOption {
	return func(o *syncOptions) { o.token = token }
}

// Manager is the externally callable sync engine. At most one run per user is
// in flight; a call made while that user's run is active is a no-op.
type Manager struct {
	store           Store
	tokens          TokenSource
	providerFactory ProviderFactory
	recorder        RunRecorder
	observer        RunObserver
	normalizer      *Normalizer
	maxResults      int
	log             *zap.Logger

	mu     gosync.Mutex
	states map[string]RunState
	wg     gosync.WaitGroup
}

// NewManager creates a sync manager.
func NewManager(store Store, tokens TokenSource, providerFactory ProviderFactory, log *zap.Logger, opts ...ManagerOption) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:           store,
		tokens:          tokens,
		providerFactory: providerFactory,
		normalizer:      NewNormalizer(log),
		maxResults:      DefaultMaxResults,
		log:             log,
		states:          make(map[string]RunState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SyncEmails runs one sync for userID. It returns (nil, nil) without doing
// anything when a run for that user is already in flight, ErrNoCredentials
// when no token can be resolved, and a wrapped fetch error when the remote
// listing fails. Otherwise the summary may carry a nonzero Errors count.
func (m *Manager) SyncEmails(ctx context.Context, userID string, opts ...SyncOption) (*SyncSummary, error) {
	if !m.begin(userID) {
		m.log.Info("sync already running", zap.String("user_id", userID))
		return nil, nil
	}
	defer m.finish(userID)

	var o syncOptions
	for _, opt := range opts {
		opt(&o)
	}

	started := time.Now()
	summary, err := m.run(ctx, userID, o)
	m.complete(ctx, userID, started, summary, err)
	return summary, err
}

func (m *Manager) run(ctx context.Context, userID string, o syncOptions) (*SyncSummary, error) {
	token, err := m.tokens.ResolveToken(ctx, userID, o.token)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoCredentials
	}

	provider, err := m.providerFactory(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	runner := &Runner{
		Store:      m.store,
		Provider:   provider,
		Normalizer: m.normalizer,
		MaxResults: m.maxResults,
		Log:        m.log,
	}
	return runner.Run(ctx, userID)
}

// complete records and reports a finished run.
func (m *Manager) complete(ctx context.Context, userID string, started time.Time, summary *SyncSummary, err error) {
	elapsed := time.Since(started)
	log := m.log.With(zap.String("user_id", userID), zap.Duration("elapsed", elapsed))

	run := SyncRun{
		ID:         uuid.NewString(),
		UserID:     userID,
		StartedAt:  started,
		FinishedAt: started.Add(elapsed),
		Status:     RunStatusCompleted,
	}
	switch {
	case errors.Is(err, ErrNoCredentials):
		run.Status = RunStatusNoCredentials
		run.LastError = err.Error()
		log.Warn("sync skipped: no credentials")
	case err != nil:
		run.Status = RunStatusFailed
		run.LastError = err.Error()
		log.Error("sync failed", zap.Error(err))
	default:
		run.Synced, run.Errors, run.Skipped = summary.Synced, summary.Errors, summary.Skipped
		log.Info("sync completed",
			zap.Int("synced", summary.Synced),
			zap.Int("errors", summary.Errors),
			zap.Int("skipped", summary.Skipped),
		)
	}

	if m.observer != nil {
		var s SyncSummary
		if summary != nil {
			s = *summary
		}
		m.observer.ObserveRun(run.Status, s, elapsed)
	}
	if m.recorder != nil {
		if err := m.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			log.Error("record sync run", zap.Error(err))
		}
	}
}

// MarkAsReadRemote flags a message read at the provider in the background.
// Failures are logged and never returned.
func (m *Manager) MarkAsReadRemote(ctx context.Context, userID, externalID string) {
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, markReadTimeout)
		defer cancel()

		log := m.log.With(zap.String("user_id", userID), zap.String("external_id", externalID))
		if err := m.markAsRead(ctx, userID, externalID); err != nil {
			log.Warn("mark as read at provider", zap.Error(err))
			return
		}
		log.Debug("marked as read at provider")
	}()
}

func (m *Manager) markAsRead(ctx context.Context, userID, externalID string) error {
	token, err := m.tokens.ResolveToken(ctx, userID, "")
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoCredentials
	}

	provider, err := m.providerFactory(ctx, token)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return provider.MarkAsRead(ctx, externalID)
}

// State returns the current sync state of userID.
func (m *Manager) State(userID string) RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}

// Wait blocks until background mark-as-read calls have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// begin moves userID from Idle to Running. It reports false when already Running.
func (m *Manager) begin(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[userID] == StateRunning {
		return false
	}
	m.states[userID] = StateRunning
	return true
}

func (m *Manager) finish(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
}
