package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IdrisKulubi/Student-Mail/internal/auth"
	"github.com/IdrisKulubi/Student-Mail/internal/eventstore/sqlite"
	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

// EmailStore is the read and edit side of the email store.
type EmailStore interface {
	List(ctx context.Context, userID string, f sqlite.ListFilter) ([]*sync.Email, error)
	GetByID(ctx context.Context, id, userID string) (*sync.Email, error)
	UpdateFlags(ctx context.Context, id, userID string, patch sqlite.FlagPatch) (*sync.Email, error)
	MarkManyRead(ctx context.Context, userID string, ids []string) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	Stats(ctx context.Context, userID string) (*sqlite.Stats, error)
	LatestRun(ctx context.Context, userID string) (*sync.SyncRun, error)
}

// Syncer runs and reports syncs.
type Syncer interface {
	SyncEmails(ctx context.Context, userID string, opts ...sync.SyncOption) (*sync.SyncSummary, error)
	MarkAsReadRemote(ctx context.Context, userID, externalID string)
	State(userID string) sync.RunState
}

// Credentials is the sign-in/sign-out side of the credential cache.
type Credentials interface {
	Store(userID, token string) error
	Clear(userID string) error
}

// TokenFetcher obtains a provider token from the identity provider.
type TokenFetcher interface {
	GetToken(ctx context.Context, userJWT string) (*auth.Token, error)
}

// Handler serves the mail API.
type Handler struct {
	emails      EmailStore
	syncer      Syncer
	credentials Credentials
	identity    TokenFetcher
	log         *zap.Logger
}

// NewHandler creates a Handler. identity may be nil, in which case sign-in
// requires the provider token in the request body.
func NewHandler(emails EmailStore, syncer Syncer, credentials Credentials, identity TokenFetcher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		emails:      emails,
		syncer:      syncer,
		credentials: credentials,
		identity:    identity,
		log:         log,
	}
}

type tokenRequest struct {
	ProviderToken string `json:"provider_token"`
}

type markManyRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type updateRequest struct {
	IsRead      *bool          `json:"is_read"`
	IsImportant *bool          `json:"is_important"`
	Category    *sync.Category `json:"category"`
	AISummary   *string        `json:"ai_summary"`
}

// SignIn stores the caller's Google token, fetching it from the identity
// provider when the body does not carry one.
func (h *Handler) SignIn(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req tokenRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := req.ProviderToken
	if token == "" {
		if h.identity == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provider_token is required"})
			return
		}
		t, err := h.identity.GetToken(c.Request.Context(), c.GetString(ctxUserJWT))
		if err != nil {
			if errors.Is(err, auth.ErrAccountNotLinked) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			h.log.Error("fetch provider token", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch provider token"})
			return
		}
		token = t.AccessToken
	}

	if err := h.credentials.Store(userID, token); err != nil {
		h.log.Error("store credential", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// SignOut forgets the caller's Google token.
func (h *Handler) SignOut(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	if err := h.credentials.Clear(userID); err != nil {
		h.log.Error("clear credential", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear credential"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Sync runs one sync for the caller and returns its summary.
func (h *Handler) Sync(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req tokenRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// A client disconnect must not abort a run that is already writing.
	ctx := context.WithoutCancel(c.Request.Context())
	summary, err := h.syncer.SyncEmails(ctx, userID, sync.WithToken(req.ProviderToken))
	switch {
	case errors.Is(err, sync.ErrNoCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in to Google"})
	case errors.Is(err, sync.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Google rejected the access token"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "sync failed"})
	case summary == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "already_syncing"})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

// SyncStatus reports whether a sync is running and the last recorded run.
func (h *Handler) SyncStatus(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	run, err := h.emails.LatestRun(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "load sync run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":    h.syncer.State(userID).String(),
		"last_run": run,
	})
}

// ListEmails returns the caller's emails, newest first.
func (h *Handler) ListEmails(c *gin.Context) {
	filter := sqlite.ListFilter{
		Category: sync.Category(c.Query("category")),
		Search:   c.Query("search"),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	var err error
	if filter.IsRead, err = queryBool(c, "is_read"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_read must be a boolean"})
		return
	}
	if filter.IsImportant, err = queryBool(c, "is_important"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_important must be a boolean"})
		return
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	emails, err := h.emails.List(c.Request.Context(), c.GetString(ctxUserID), filter)
	if err != nil {
		h.internalError(c, "list emails", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

// Stats returns the caller's mailbox counts.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.emails.Stats(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.internalError(c, "email stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetEmail returns one email.
func (h *Handler) GetEmail(c *gin.Context) {
	email, err := h.emails.GetByID(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	if err != nil {
		h.storeError(c, "get email", err)
		return
	}
	c.JSON(http.StatusOK, email)
}

// MarkRead marks one email read locally and at Google.
func (h *Handler) MarkRead(c *gin.Context) {
	read := true
	h.applyPatch(c, sqlite.FlagPatch{IsRead: &read})
}

// UpdateEmail applies a partial update of the editable flags.
func (h *Handler) UpdateEmail(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Category != nil && !req.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	h.applyPatch(c, sqlite.FlagPatch{
		IsRead:      req.IsRead,
		IsImportant: req.IsImportant,
		Category:    req.Category,
		AISummary:   req.AISummary,
	})
}

// applyPatch updates the email and, when it turns read, mirrors that at Google.
func (h *Handler) applyPatch(c *gin.Context, patch sqlite.FlagPatch) {
	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)
	id := c.Param("id")

	before, err := h.emails.GetByID(ctx, id, userID)
	if err != nil {
		h.storeError(c, "get email", err)
		return
	}

	after, err := h.emails.UpdateFlags(ctx, id, userID, patch)
	if err != nil {
		h.storeError(c, "update email", err)
		return
	}

	if !before.IsRead && after.IsRead {
		h.syncer.MarkAsReadRemote(ctx, userID, after.ExternalID)
	}
	c.JSON(http.StatusOK, after)
}

// MarkManyRead marks a set of emails read locally.
func (h *Handler) MarkManyRead(c *gin.Context) {
	var req markManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.emails.MarkManyRead(c.Request.Context(), c.GetString(ctxUserID), req.IDs)
	if err != nil {
		h.internalError(c, "mark emails read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// DeleteEmail removes one email from the local store.
func (h *Handler) DeleteEmail(c *gin.Context) {
	if err := h.emails.Delete(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID)); err != nil {
		h.storeError(c, "delete email", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) storeError(c *gin.Context, op string, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	h.internalError(c, op, err)
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error(op, zap.String("user_id", c.GetString(ctxUserID)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// bindOptionalJSON decodes the body when there is one.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
