package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxResults bounds the remote window fetched by one run.
const DefaultMaxResults = 50

type messageOutcome int

const (
	outcomeSynced messageOutcome = iota
	outcomeIrrelevant
	outcomeAlreadySynced
)

// Runner performs a single sync run for one user against one provider.
type Runner struct {
	Store      Store
	Provider   MailProvider
	Normalizer *Normalizer
	MaxResults int
	Log        *zap.Logger
}

// Run fetches the recent window and stores every new relevant message. Only a
// failed fetch aborts the run; per-message failures are counted in Errors.
func (r *Runner) Run(ctx context.Context, userID string) (*SyncSummary, error) {
	log := r.logger().With(zap.String("user_id", userID))

	maxResults := r.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	messages, err := r.Provider.FetchRecent(ctx, maxResults)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	log.Info("fetched messages", zap.Int("count", len(messages)))

	summary := &SyncSummary{}
	for _, msg := range messages {
		outcome, err := r.processMessage(ctx, userID, msg)
		if err != nil {
			summary.Errors++
			log.Error("sync message", zap.String("external_id", msg.ID), zap.Error(err))
			continue
		}

		switch outcome {
		case outcomeSynced:
			summary.Synced++
		case outcomeIrrelevant:
			summary.Skipped++
			log.Debug("skip irrelevant message", zap.String("external_id", msg.ID))
		case outcomeAlreadySynced:
			summary.Skipped++
			log.Debug("skip already synced message", zap.String("external_id", msg.ID))
		}
	}

	return summary, nil
}

// processMessage handles one message in isolation. A panic while handling it
// is converted into an error so the rest of the run continues.
func (r *Runner) processMessage(ctx context.Context, userID string, msg RemoteMessage) (outcome messageOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic processing message: %v", p)
		}
	}()

	email, err := r.normalizer().Normalize(msg)
	if err != nil {
		return 0, fmt.Errorf("normalize: %w", err)
	}

	if !IsRelevant(email.SenderEmail, email.Subject, email.BodyPreview) {
		return outcomeIrrelevant, nil
	}

	existing, err := r.Store.FindByExternalID(ctx, userID, email.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return outcomeAlreadySynced, nil
	}

	email.UserID = userID
	email.Category = Categorize(email.Subject, email.SenderEmail, email.BodyPreview)
	email.IsRead = false
	email.IsImportant = false

	if _, err := r.Store.Insert(ctx, &email); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return outcomeAlreadySynced, nil
		}
		return 0, fmt.Errorf("insert: %w", err)
	}

	r.logger().Info("synced email",
		zap.String("user_id", userID),
		zap.String("external_id", email.ExternalID),
		zap.String("category", string(email.Category)),
	)
	return outcomeSynced, nil
}

func (r *Runner) normalizer() *Normalizer {
	if r.Normalizer == nil {
		r.Normalizer = NewNormalizer(r.logger())
	}
	return r.Normalizer
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
