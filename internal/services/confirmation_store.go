package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dchest/uniuri"

	"github.com/isdelr/safeback/internal/database"
)

const tokenLength = 48

// Confirmation binds a restore token to the preview that issued it.
type Confirmation struct {
	WorkspaceID string
	SnapshotID  string
	ActorUserID string
}

// ConfirmationStore issues single-use restore confirmation tokens. Only a hash of each
// token is persisted.
type ConfirmationStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewConfirmationStore creates a new ConfirmationStore.
func NewConfirmationStore(db *sql.DB, ttl time.Duration) *ConfirmationStore {
	return &ConfirmationStore{db: db, ttl: ttl, now: time.Now}
}

// TTL is how long an issued token stays valid.
func (c *ConfirmationStore) TTL() time.Duration {
	return c.ttl
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue mints a token for conf. Earlier tokens for the same snapshot stay valid.
func (c *ConfirmationStore) Issue(ctx context.Context, conf Confirmation) (string, time.Time, error) {
	token := uniuri.NewLen(tokenLength)
	issued := c.now().UTC()
	expires := issued.Add(c.ttl)

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO restore_confirmations (token_hash, workspace_id, snapshot_id, actor_user_id, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		hashToken(token), conf.WorkspaceID, conf.SnapshotID, conf.ActorUserID,
		database.FormatTime(issued), database.FormatTime(expires))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storing confirmation token: %w", err)
	}
	return token, expires, nil
}

// Peek checks that token is currently valid for conf without using it up.
func (c *ConfirmationStore) Peek(ctx context.Context, token string, conf Confirmation) error {
	if token == "" {
		return ErrInvalidConfirmation
	}
	var (
		stored     Confirmation
		expiresAt  string
		consumedAt sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT workspace_id, snapshot_id, actor_user_id, expires_at, consumed_at
		FROM restore_confirmations WHERE token_hash = ?`, hashToken(token)).
		Scan(&stored.WorkspaceID, &stored.SnapshotID, &stored.ActorUserID, &expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidConfirmation
	}
	if err != nil {
		return fmt.Errorf("reading confirmation token: %w", err)
	}

	expires, err := database.ParseTime(expiresAt)
	if err != nil {
		return fmt.Errorf("parsing confirmation expiry: %w", err)
	}
	if stored != conf || consumedAt.Valid || !c.now().Before(expires) {
		return ErrInvalidConfirmation
	}
	return nil
}

// Consume atomically marks token used. Exactly one caller can consume a token.
func (c *ConfirmationStore) Consume(ctx context.Context, token string, conf Confirmation) error {
	if token == "" {
		return ErrInvalidConfirmation
	}
	now := database.FormatTime(c.now())
	res, err := c.db.ExecContext(ctx, `
		UPDATE restore_confirmations SET consumed_at = ?
		WHERE token_hash = ? AND workspace_id = ? AND snapshot_id = ? AND actor_user_id = ?
			AND consumed_at IS NULL AND expires_at > ?`,
		now, hashToken(token), conf.WorkspaceID, conf.SnapshotID, conf.ActorUserID, now)
	if err != nil {
		return fmt.Errorf("consuming confirmation token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consuming confirmation token: %w", err)
	}
	if n == 0 {
		return ErrInvalidConfirmation
	}
	return nil
}

// PurgeExpired deletes tokens that expired before the retention window.
func (c *ConfirmationStore) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := database.FormatTime(c.now().Add(-olderThan))
	res, err := c.db.ExecContext(ctx, "DELETE FROM restore_confirmations WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging expired confirmations: %w", err)
	}
	return res.RowsAffected()
}
