package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

const (
	user = "me"

	// recentQuery selects unread messages or anything from the last week.
	recentQuery = "is:unread OR newer_than:7d"

	labelUnread = "UNREAD"

	// maxPageSize is the largest page the list endpoint serves.
	maxPageSize = 500

	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond

	breakerTripFailures = 5
)

// Options tunes an Adapter.
type Options struct {
	// BatchSize is the number of concurrent message fetches per batch.
	BatchSize int
	// BatchDelay is the pause between batches.
	BatchDelay time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
	// BaseClient is the transport the bearer token is layered on.
	BaseClient *http.Client
}

// Adapter implements sync.MailProvider for Gmail.
type Adapter struct {
	svc        *gmail.Service
	batchSize  int
	batchDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
}

// New creates a Gmail adapter that authenticates every request with token.
func New(ctx context.Context, token string, log *zap.Logger, opts Options) (*Adapter, error) {
	if token == "" {
		return nil, sync.ErrNoCredentials
	}
	if log == nil {
		log = zap.NewNop()
	}

	if opts.BaseClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.BaseClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	clientOpts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchDelay := opts.BatchDelay
	if batchDelay < 0 {
		batchDelay = 0
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "gmail-get",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Adapter{
		svc:        svc,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		breaker:    breaker,
		log:        log,
	}, nil
}

// NewFactory returns a sync.ProviderFactory producing adapters with opts.
func NewFactory(log *zap.Logger, opts Options) sync.ProviderFactory {
	return func(ctx context.Context, token string) (sync.MailProvider, error) {
		return New(ctx, token, log, opts)
	}
}

// FetchRecent lists up to maxResults recent message ids and fetches each one
// in full, batchSize at a time with a pause between batches.
func (a *Adapter) FetchRecent(ctx context.Context, maxResults int) ([]sync.RemoteMessage, error) {
	if maxResults <= 0 {
		maxResults = sync.DefaultMaxResults
	}

	ids, err := a.listIDs(ctx, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	messages := make([]sync.RemoteMessage, 0, len(ids))
	for start := 0; start < len(ids); start += a.batchSize {
		end := min(start+a.batchSize, len(ids))

		batch, err := a.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		messages = append(messages, batch...)

		if end < len(ids) && a.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.batchDelay):
			}
		}
	}

	a.log.Debug("fetched message details", zap.Int("listed", len(ids)), zap.Int("fetched", len(messages)))
	return messages, nil
}

// listIDs pages through the listing until maxResults ids are collected.
func (a *Adapter) listIDs(ctx context.Context, maxResults int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < maxResults {
		call := a.svc.Users.Messages.List(user).
			Q(recentQuery).
			MaxResults(int64(min(maxResults-len(ids), maxPageSize))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", classify(err))
		}
		for _, m := range resp.Messages {
			if len(ids) == maxResults {
				break
			}
			ids = append(ids, m.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return ids, nil
}

// fetchBatch fetches ids concurrently. Messages that fail are dropped; an
// authorization failure aborts the whole batch.
func (a *Adapter) fetchBatch(ctx context.Context, ids []string) ([]sync.RemoteMessage, error) {
	results := make([]*gmail.Message, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := a.getMessage(gctx, id)
			if err != nil {
				if errors.Is(err, sync.ErrUnauthorized) {
					return fmt.Errorf("failed to get message %s: %w", id, err)
				}
				a.log.Warn("dropping message", zap.String("external_id", id), zap.Error(err))
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]sync.RemoteMessage, 0, len(results))
	for _, m := range results {
		if m != nil {
			messages = append(messages, toRemoteMessage(m))
		}
	}
	return messages, nil
}

func (a *Adapter) getMessage(ctx context.Context, id string) (*gmail.Message, error) {
	res, err := a.breaker.Execute(func() (interface{}, error) {
		msg, err := a.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		return msg, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*gmail.Message), nil
}

// MarkAsRead removes the UNREAD label from a message.
func (a *Adapter) MarkAsRead(ctx context.Context, externalID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{labelUnread}}
	if _, err := a.svc.Users.Messages.Modify(user, externalID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to mark message %s as read: %w", externalID, classify(err))
	}
	return nil
}

// classify maps a rejected bearer token onto sync.ErrUnauthorized.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", sync.ErrUnauthorized, apiErr.Message)
	}
	return err
}

// tripsBreaker reports whether a get error indicates an overloaded or
// unreachable provider. Client errors about a single message, such as a
// message deleted after listing, do not count.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, sync.ErrUnauthorized) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

// toRemoteMessage converts a Gmail message, keeping only the first level of parts.
func toRemoteMessage(m *gmail.Message) sync.RemoteMessage {
	msg := sync.RemoteMessage{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		LabelIDs:     m.LabelIds,
		Snippet:      m.Snippet,
		InternalDate: strconv.FormatInt(m.InternalDate, 10),
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		if h == nil {
			continue
		}
		msg.Headers = append(msg.Headers, sync.Header{Name: h.Name, Value: h.Value})
	}
	if m.Payload.Body != nil && m.Payload.Body.Data != "" {
		msg.Body = &sync.MessageBody{Data: m.Payload.Body.Data}
	}
	for _, p := range m.Payload.Parts {
		if p == nil {
			continue
		}
		part := sync.MessagePart{MimeType: p.MimeType}
		if p.Body != nil {
			part.Body = &sync.MessageBody{Data: p.Body.Data}
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg
}
