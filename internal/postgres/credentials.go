package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khaledrokaya2/goldpin/internal/domain"
)

// CredentialStore hands out and burns one-time backup codes. The supply is
// shared across concurrent jobs, so consuming must be atomic.
type CredentialStore interface {
	FetchActive(ctx context.Context, accountID string) ([]domain.Credential, error)
	MarkConsumed(ctx context.Context, ids []int64) error
	AddCodes(ctx context.Context, accountID string, codes []string) error
}

type credentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore wraps a pgxpool with the CredentialStore interface.
func NewCredentialStore(pool *pgxpool.Pool) CredentialStore {
	return &credentialStore{pool: pool}
}

func (s *credentialStore) FetchActive(ctx context.Context, accountID string) ([]domain.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code
		FROM backup_codes
		WHERE account_id = $1 AND consumed = FALSE
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("fetch active backup codes for %s: %w", accountID, err)
	}
	defer rows.Close()

	var creds []domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(&c.ID, &c.Code); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// MarkConsumed burns codes atomically. The `consumed = FALSE` guard makes the
// reservation race-safe: if another job claimed any of the codes first, fewer
// rows match and the whole call fails with a conflict instead of
// double-allocating.
func (s *credentialStore) MarkConsumed(ctx context.Context, ids []int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backup_codes
		SET consumed = TRUE, consumed_at = $1
		WHERE id = ANY($2) AND consumed = FALSE
	`, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("mark backup codes consumed: %w", err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return &domain.CredentialConflictError{
			Requested: len(ids),
			Claimed:   int(tag.RowsAffected()),
		}
	}
	return nil
}

func (s *credentialStore) AddCodes(ctx context.Context, accountID string, codes []string) error {
	for _, code := range codes {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO backup_codes (account_id, code, consumed, created_at)
			VALUES ($1, $2, FALSE, $3)
		`, accountID, code, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("add backup code for %s: %w", accountID, err)
		}
	}
	return nil
}
