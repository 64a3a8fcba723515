package sync

import (
	"context"
	"errors"
)

var (
	// ErrNoCredentials is returned when no bearer token is available for the
	// mail account. No provider call is attempted in that case.
	ErrNoCredentials = errors.New("no mail credentials available")

	// ErrUnauthorized is returned when the provider rejects the bearer token.
	ErrUnauthorized = errors.New("mail provider rejected credentials")

	// ErrDuplicate is returned by a Store when (user_id, external_id) already exists.
	ErrDuplicate = errors.New("email already synced")
)

// Header is a single name/value pair from the message header list.
type Header struct {
	Name  string
	Value string
}

// MessageBody holds the provider's URL-safe base64 body data.
type MessageBody struct {
	Data string
}

// MessagePart is a first-level body part keyed by MIME type.
type MessagePart struct {
	MimeType string
	Body     *MessageBody
}

// RemoteMessage is a message as returned by the mail provider. It is never mutated.
type RemoteMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	Headers      []Header
	Body         *MessageBody
	Parts        []MessagePart
	InternalDate string // epoch milliseconds
}

// MailProvider fetches recent messages and flags them read at the provider.
type MailProvider interface {
	// FetchRecent returns up to maxResults fully materialized messages that are
	// unread or newer than seven days. Individual fetch failures are dropped.
	FetchRecent(ctx context.Context, maxResults int) ([]RemoteMessage, error)

	// MarkAsRead removes the unread label from a message.
	MarkAsRead(ctx context.Context, externalID string) error
}

// ProviderFactory builds a MailProvider bound to a bearer token.
type ProviderFactory func(ctx context.Context, token string) (MailProvider, error)

// TokenSource resolves the mail-scoped bearer token for a user. An explicit
// token wins over a cached one; when neither exists it returns ErrNoCredentials.
type TokenSource interface {
	ResolveToken(ctx context.Context, userID, explicit string) (string, error)
}
