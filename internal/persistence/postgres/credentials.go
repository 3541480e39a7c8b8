package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/healthsync/internal/domain"
)

const credentialColumns = `user_id, provider, access_token, refresh_token, expires_at, external_account_id, last_sync_at, watermark, updated_at`

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var (
		c                                domain.Credential
		provider                         string
		access, refresh, externalAccount *string
	)
	if err := row.Scan(&c.UserID, &provider, &access, &refresh, &c.ExpiresAt, &externalAccount, &c.LastSyncAt, &c.Watermark, &c.UpdatedAt); err != nil {
		return domain.Credential{}, err
	}
	c.Provider = domain.Provider(provider)
	c.AccessToken = derefString(access)
	c.RefreshToken = derefString(refresh)
	c.ExternalAccountID = derefString(externalAccount)
	return c, nil
}

// Get returns nil when no credential exists or it has been cleared.
func (r *Repository) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM provider_credentials
        WHERE user_id=$1 AND provider=$2 AND (access_token IS NOT NULL OR refresh_token IS NOT NULL)`

	c, err := scanCredential(r.pool.QueryRow(ctx, query, userID, string(provider)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Save upserts every token field in one statement. Sync bookkeeping is kept
// when the incoming credential leaves it unset.
func (r *Repository) Save(ctx context.Context, c domain.Credential) error {
	const stmt = `INSERT INTO provider_credentials (user_id, provider, access_token, refresh_token, expires_at, external_account_id, last_sync_at, watermark, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
        ON CONFLICT (user_id, provider) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            external_account_id = COALESCE(EXCLUDED.external_account_id, provider_credentials.external_account_id),
            last_sync_at = COALESCE(EXCLUDED.last_sync_at, provider_credentials.last_sync_at),
            watermark = COALESCE(EXCLUDED.watermark, provider_credentials.watermark),
            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		c.UserID,
		string(c.Provider),
		nullIfEmpty(c.AccessToken),
		nullIfEmpty(c.RefreshToken),
		c.ExpiresAt,
		nullIfEmpty(c.ExternalAccountID),
		c.LastSyncAt,
		c.Watermark,
	)
	return err
}

// Clear nulls every credential field, keeping the row for audit.
func (r *Repository) Clear(ctx context.Context, userID string, provider domain.Provider) error {
	const stmt = `UPDATE provider_credentials
        SET access_token = NULL, refresh_token = NULL, expires_at = NULL, external_account_id = NULL,
            last_sync_at = NULL, watermark = NULL, updated_at = NOW()
        WHERE user_id=$1 AND provider=$2`
	_, err := r.pool.Exec(ctx, stmt, userID, string(provider))
	return err
}

// UpdateTokens is a compare-and-swap on the token pair. A cleared row has
// NULL tokens and never matches.
func (r *Repository) UpdateTokens(ctx context.Context, c domain.Credential, prevAccess, prevRefresh string) error {
	const stmt = `UPDATE provider_credentials
        SET access_token = $3, refresh_token = $4, expires_at = $5, updated_at = NOW()
        WHERE user_id=$1 AND provider=$2
          AND (access_token IS NOT NULL OR refresh_token IS NOT NULL)
          AND access_token IS NOT DISTINCT FROM $6::text
          AND refresh_token IS NOT DISTINCT FROM $7::text`

	tag, err := r.pool.Exec(ctx, stmt,
		c.UserID,
		string(c.Provider),
		nullIfEmpty(c.AccessToken),
		nullIfEmpty(c.RefreshToken),
		c.ExpiresAt,
		nullIfEmpty(prevAccess),
		nullIfEmpty(prevRefresh),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialChanged
	}
	return nil
}

// ListConnected returns credentials holding an access token, ordered by user.
func (r *Repository) ListConnected(ctx context.Context, provider domain.Provider) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM provider_credentials
        WHERE provider=$1 AND access_token IS NOT NULL
        ORDER BY user_id`

	rows, err := r.pool.Query(ctx, query, string(provider))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSynced stamps last_sync_at and advances the watermark monotonically.
// Cleared credentials are left untouched.
func (r *Repository) MarkSynced(ctx context.Context, userID string, provider domain.Provider, at time.Time, watermark *time.Time) error {
	const stmt = `UPDATE provider_credentials
        SET last_sync_at = $3,
            watermark = GREATEST(watermark, $4::date)
        WHERE user_id=$1 AND provider=$2 AND access_token IS NOT NULL`
	_, err := r.pool.Exec(ctx, stmt, userID, string(provider), at.UTC(), watermark)
	return err
}
