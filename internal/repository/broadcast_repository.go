package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/model"
)

type BroadcastRepositoryInterface interface {
	// Broadcast CRUD
	Create(b *model.Broadcast) error
	GetByID(id int) (*model.Broadcast, error)
	List(offset, limit int, status, ownerID string) ([]*model.Broadcast, int, error)
	Delete(id int) error
	ListResumable() ([]*model.Broadcast, error)

	// Lifecycle transitions (monotonic)
	MarkQueued(id int) error
	MarkInProgress(id int) error
	MarkCompleted(id int) (bool, error)
	MarkCancelled(id int) error

	// Audio assets
	GetAudioAsset(broadcastID int, uniqueKey string) (*model.AudioAsset, error)
	CreateAudioAsset(a *model.AudioAsset) error
	ListAudioAssets(broadcastID int) ([]model.AudioAsset, error)
}

type BroadcastRepository struct {
	DB *sql.DB
}

const broadcastColumns = `id, name, template, status, owner_id,
	voice_provider, voice_id, voice_language,
	max_concurrent, max_retries, retry_delay_ms,
	disclaimer_text, optout_enabled, dnd_respect,
	created_at, updated_at, started_at, completed_at`

func scanBroadcast(row interface{ Scan(...any) error }) (*model.Broadcast, error) {
	var b model.Broadcast
	var retryDelayMs int64
	err := row.Scan(
		&b.ID, &b.Name, &b.Template, &b.Status, &b.OwnerID,
		&b.Voice.Provider, &b.Voice.VoiceID, &b.Voice.Language,
		&b.Config.MaxConcurrent, &b.Config.MaxRetries, &retryDelayMs,
		&b.Config.Compliance.DisclaimerText, &b.Config.Compliance.OptOutEnabled, &b.Config.Compliance.DNDRespect,
		&b.CreatedAt, &b.UpdatedAt, &b.StartedAt, &b.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Config.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	return &b, nil
}

// ====================== Broadcast CRUD ======================

func (r *BroadcastRepository) Create(b *model.Broadcast) error {
	b.CreatedAt = time.Now()
	if b.Status == "" {
		b.Status = model.BroadcastDraft
	}
	query := `
        INSERT INTO broadcasts
            (name, template, status, owner_id,
             voice_provider, voice_id, voice_language,
             max_concurrent, max_retries, retry_delay_ms,
             disclaimer_text, optout_enabled, dnd_respect, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		b.Name, b.Template, b.Status, b.OwnerID,
		b.Voice.Provider, b.Voice.VoiceID, b.Voice.Language,
		b.Config.MaxConcurrent, b.Config.MaxRetries, b.Config.RetryDelay.Milliseconds(),
		b.Config.Compliance.DisclaimerText, b.Config.Compliance.OptOutEnabled, b.Config.Compliance.DNDRespect,
		b.CreatedAt,
	).Scan(&b.ID)
}

func (r *BroadcastRepository) GetByID(id int) (*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id=$1`
	b, err := scanBroadcast(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewBroadcastNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

func (r *BroadcastRepository) List(offset, limit int, status, ownerID string) ([]*model.Broadcast, int, error) {
	broadcasts := []*model.Broadcast{}
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	if ownerID != "" {
		query += fmt.Sprintf(" AND owner_id=$%d", argPos)
		args = append(args, ownerID)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		broadcasts = append(broadcasts, b)
	}

	// Count total
	countQuery := `SELECT COUNT(*) FROM broadcasts WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
		argPosCount++
	}
	if ownerID != "" {
		countQuery += fmt.Sprintf(" AND owner_id=$%d", argPosCount)
		argsCount = append(argsCount, ownerID)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return broadcasts, total, nil
}

// Delete removes the broadcast; calls and audio assets cascade.
func (r *BroadcastRepository) Delete(id int) error {
	_, err := r.DB.Exec(`DELETE FROM broadcasts WHERE id=$1`, id)
	return err
}

// ListResumable returns broadcasts the dispatcher should pick back up
// after a restart.
func (r *BroadcastRepository) ListResumable() ([]*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE status IN ($1, $2) ORDER BY id`
	rows, err := r.DB.Query(query, model.BroadcastQueued, model.BroadcastInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	broadcasts := []*model.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// ====================== Lifecycle transitions ======================

func (r *BroadcastRepository) MarkQueued(id int) error {
	query := `UPDATE broadcasts SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	_, err := r.DB.Exec(query, model.BroadcastQueued, id, model.BroadcastDraft)
	return err
}

// MarkInProgress records started_at only on the first transition out of
// queued; later ticks are no-ops.
func (r *BroadcastRepository) MarkInProgress(id int) error {
	query := `
        UPDATE broadcasts
        SET status=$1, started_at=COALESCE(started_at, NOW()), updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	_, err := r.DB.Exec(query, model.BroadcastInProgress, id, model.BroadcastQueued)
	return err
}

// MarkCompleted transitions to completed exactly once. The boolean
// reports whether this call performed the transition.
func (r *BroadcastRepository) MarkCompleted(id int) (bool, error) {
	query := `
        UPDATE broadcasts
        SET status=$1, completed_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND status NOT IN ($3, $4)
    `
	res, err := r.DB.Exec(query, model.BroadcastCompleted, id, model.BroadcastCompleted, model.BroadcastCancelled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *BroadcastRepository) MarkCancelled(id int) error {
	query := `
        UPDATE broadcasts
        SET status=$1, completed_at=COALESCE(completed_at, NOW()), updated_at=NOW()
        WHERE id=$2 AND status NOT IN ($3, $4)
    `
	_, err := r.DB.Exec(query, model.BroadcastCancelled, id, model.BroadcastCompleted, model.BroadcastCancelled)
	return err
}

// ====================== Audio assets ======================

func (r *BroadcastRepository) GetAudioAsset(broadcastID int, uniqueKey string) (*model.AudioAsset, error) {
	query := `
        SELECT id, broadcast_id, unique_key, text, audio_url, duration, generated_at
        FROM audio_assets WHERE broadcast_id=$1 AND unique_key=$2
    `
	var a model.AudioAsset
	err := r.DB.QueryRow(query, broadcastID, uniqueKey).Scan(
		&a.ID, &a.BroadcastID, &a.UniqueKey, &a.Text, &a.AudioURL, &a.Duration, &a.GeneratedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *BroadcastRepository) CreateAudioAsset(a *model.AudioAsset) error {
	a.GeneratedAt = time.Now()
	query := `
        INSERT INTO audio_assets (broadcast_id, unique_key, text, audio_url, duration, generated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (broadcast_id, unique_key) DO UPDATE SET audio_url=EXCLUDED.audio_url
        RETURNING id
    `
	return r.DB.QueryRow(query, a.BroadcastID, a.UniqueKey, a.Text, a.AudioURL, a.Duration, a.GeneratedAt).Scan(&a.ID)
}

func (r *BroadcastRepository) ListAudioAssets(broadcastID int) ([]model.AudioAsset, error) {
	query := `
        SELECT id, broadcast_id, unique_key, text, audio_url, duration, generated_at
        FROM audio_assets WHERE broadcast_id=$1
    `
	rows, err := r.DB.Query(query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []model.AudioAsset{}
	for rows.Next() {
		var a model.AudioAsset
		if err := rows.Scan(&a.ID, &a.BroadcastID, &a.UniqueKey, &a.Text, &a.AudioURL, &a.Duration, &a.GeneratedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

var _ BroadcastRepositoryInterface = (*BroadcastRepository)(nil)
