package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/model"
)

// OptOutRepositoryInterface is the global phone-keyed suppression store.
// Expiry is enforced at read time: every query filters on expires_at, so
// no sweeper task exists anywhere in the system.
type OptOutRepositoryInterface interface {
	Upsert(phone, source string, ttl time.Duration, meta map[string]string) error
	IsActive(phone string) (bool, error)
	Get(phone string) (*model.OptOut, error)
}

type OptOutRepository struct {
	DB *sql.DB
}

// Upsert records or refreshes an opt-out for a phone number.
func (r *OptOutRepository) Upsert(phone, source string, ttl time.Duration, meta map[string]string) error {
	query := `
        INSERT INTO opt_outs (phone, source, opted_out_at, expires_at, metadata)
        VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3), $4)
        ON CONFLICT (phone) DO UPDATE SET
            source = EXCLUDED.source,
            opted_out_at = EXCLUDED.opted_out_at,
            expires_at = EXCLUDED.expires_at,
            metadata = opt_outs.metadata || EXCLUDED.metadata
    `
	_, err := r.DB.Exec(query, phone, source, ttl.Seconds(), jsonb(meta))
	return err
}

// IsActive reports whether an unexpired opt-out exists for the phone.
func (r *OptOutRepository) IsActive(phone string) (bool, error) {
	var count int
	err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM opt_outs WHERE phone=$1 AND expires_at > NOW()`,
		phone,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *OptOutRepository) Get(phone string) (*model.OptOut, error) {
	query := `
        SELECT id, phone, source, opted_out_at, expires_at, metadata
        FROM opt_outs WHERE phone=$1 AND expires_at > NOW()
    `
	var o model.OptOut
	var meta []byte
	err := r.DB.QueryRow(query, phone).Scan(&o.ID, &o.Phone, &o.Source, &o.OptedOutAt, &o.ExpiresAt, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &o.Metadata)
	}
	return &o, nil
}

var _ OptOutRepositoryInterface = (*OptOutRepository)(nil)
