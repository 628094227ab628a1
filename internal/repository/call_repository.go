package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/model"
)

// CallRepositoryInterface is the persistence gateway for calls. All
// single-call mutations are atomic and compare-and-set against terminal
// states, so a late engine update can never regress a webhook update.
type CallRepositoryInterface interface {
	BulkCreate(broadcastID int, contacts []model.Contact, message func(model.Contact) string, audioURL string, audioAssetID int) (int, error)
	GetByID(id int) (*model.Call, error)
	Reconcile(internalID int, providerSID string) (*model.Call, error)

	// Selection for the dispatch engine
	GetFresh(broadcastID, limit int) ([]*model.Call, error)
	GetRetryable(broadcastID, limit int) ([]*model.Call, error)
	CountActive(broadcastID int) (int, error)
	CountPending(broadcastID int) (int, error)
	AggregateByStatus(broadcastID int) (map[string]int, error)

	// Atomic state mutations
	MarkCalling(id int, providerSID string) error
	MarkCompleted(id int, duration int) error
	MarkFailed(id int, code, message string, retry bool) error
	MarkOptedOut(id int) error
	UpdateFromWebhook(id int, status string, duration int, meta map[string]string) error
	CancelQueued(broadcastID int) (int, error)

	ListByBroadcast(broadcastID int, status string, offset, limit int) ([]*model.Call, int, error)
}

type CallRepository struct {
	DB *sql.DB
}

const callColumns = `id, broadcast_id, phone, name, custom_fields, message,
	audio_url, audio_asset_id, provider_sid, status, attempts, retry_after,
	duration, start_time, answer_time, end_time,
	provider_error_code, provider_error_message,
	dnd_status, opted_out, metadata, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (*model.Call, error) {
	var c model.Call
	var customFields, metadata []byte
	var sid sql.NullString
	var assetID sql.NullInt64
	err := row.Scan(
		&c.ID, &c.BroadcastID, &c.Phone, &c.Name, &customFields, &c.Message,
		&c.AudioURL, &assetID, &sid, &c.Status, &c.Attempts, &c.RetryAfter,
		&c.Duration, &c.StartTime, &c.AnswerTime, &c.EndTime,
		&c.ProviderErrorCode, &c.ProviderErrorMessage,
		&c.DNDStatus, &c.OptedOut, &metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ProviderSID = sid.String
	c.AudioAssetID = int(assetID.Int64)
	if len(customFields) > 0 {
		_ = json.Unmarshal(customFields, &c.CustomFields)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &c.Metadata)
	}
	return &c, nil
}

func jsonb(m map[string]string) []byte {
	if m == nil {
		return []byte(`{}`)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// ====================== Creation ======================

// BulkCreate inserts one queued call per contact in a single transaction.
// Creation order is insertion order, which gives the engine its stable
// FIFO selection order.
func (r *CallRepository) BulkCreate(broadcastID int, contacts []model.Contact, message func(model.Contact) string, audioURL string, audioAssetID int) (int, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT INTO calls (broadcast_id, phone, name, custom_fields, message, audio_url, audio_asset_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'queued', NOW(), NOW())
    `)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	created := 0
	for _, contact := range contacts {
		var assetID any
		if audioAssetID > 0 {
			assetID = audioAssetID
		}
		if _, err := stmt.Exec(broadcastID, contact.Phone, contact.Name, jsonb(contact.CustomFields), message(contact), audioURL, assetID); err != nil {
			return 0, err
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// ====================== Lookup ======================

func (r *CallRepository) GetByID(id int) (*model.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id=$1`
	c, err := scanCall(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCallNotFound(id, "")
		}
		return nil, err
	}
	return c, nil
}

// Reconcile resolves a webhook to its call row. Lookup is by provider
// SID first, then by the internal id from the callback URL; when the
// dial-response race means the SID has not been persisted yet, it is
// backfilled here atomically.
func (r *CallRepository) Reconcile(internalID int, providerSID string) (*model.Call, error) {
	if providerSID != "" {
		query := `SELECT ` + callColumns + ` FROM calls WHERE provider_sid=$1`
		c, err := scanCall(r.DB.QueryRow(query, providerSID))
		if err == nil {
			return c, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	if internalID == 0 {
		return nil, appErrors.NewCallNotFound(0, providerSID)
	}

	c, err := r.GetByID(internalID)
	if err != nil {
		return nil, err
	}
	if c.ProviderSID == "" && providerSID != "" {
		query := `UPDATE calls SET provider_sid=$1, updated_at=NOW() WHERE id=$2 AND provider_sid IS NULL`
		if _, err := r.DB.Exec(query, providerSID, c.ID); err != nil {
			// 23505: another path persisted a different SID first; the
			// row itself is still the right one.
			if pqErr, ok := err.(*pq.Error); !ok || pqErr.Code != "23505" {
				return nil, err
			}
		}
		c.ProviderSID = providerSID
	}
	return c, nil
}

// ====================== Engine selection ======================

// GetFresh returns unattempted queued calls, FIFO by creation order.
func (r *CallRepository) GetFresh(broadcastID, limit int) ([]*model.Call, error) {
	query := `
        SELECT ` + callColumns + ` FROM calls
        WHERE broadcast_id=$1 AND status='queued' AND attempts=0
        ORDER BY id ASC
        LIMIT $2
    `
	return r.queryCalls(query, broadcastID, limit)
}

// GetRetryable returns previously failed calls whose retry_after has
// elapsed, earliest first. The attempts bound mirrors MarkFailed's
// requeue condition.
func (r *CallRepository) GetRetryable(broadcastID, limit int) ([]*model.Call, error) {
	query := `
        SELECT ` + prefixedCallColumns("c") + `
        FROM calls c
        JOIN broadcasts b ON b.id = c.broadcast_id
        WHERE c.broadcast_id=$1 AND c.status='queued'
          AND c.attempts > 0 AND c.attempts < b.max_retries + 1
          AND c.retry_after <= NOW()
        ORDER BY c.retry_after ASC
        LIMIT $2
    `
	return r.queryCalls(query, broadcastID, limit)
}

func (r *CallRepository) queryCalls(query string, args ...any) ([]*model.Call, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := []*model.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func prefixedCallColumns(alias string) string {
	return alias + ".id, " + alias + ".broadcast_id, " + alias + ".phone, " + alias + ".name, " +
		alias + ".custom_fields, " + alias + ".message, " + alias + ".audio_url, " + alias + ".audio_asset_id, " +
		alias + ".provider_sid, " + alias + ".status, " + alias + ".attempts, " + alias + ".retry_after, " +
		alias + ".duration, " + alias + ".start_time, " + alias + ".answer_time, " + alias + ".end_time, " +
		alias + ".provider_error_code, " + alias + ".provider_error_message, " +
		alias + ".dnd_status, " + alias + ".opted_out, " + alias + ".metadata, " +
		alias + ".created_at, " + alias + ".updated_at"
}

// CountActive gates the dialer: an answered call is mid-conversation
// and holds its concurrency slot until a terminal webhook lands.
func (r *CallRepository) CountActive(broadcastID int) (int, error) {
	return r.countByStatuses(broadcastID, model.CallCalling, model.CallRinging, model.CallInProgress, model.CallAnswered)
}

// CountPending is the completion check: zero pending means nothing is
// queued and nothing is in flight.
func (r *CallRepository) CountPending(broadcastID int) (int, error) {
	return r.countByStatuses(broadcastID, model.CallQueued, model.CallCalling, model.CallRinging, model.CallInProgress, model.CallAnswered)
}

func (r *CallRepository) countByStatuses(broadcastID int, statuses ...string) (int, error) {
	query := `SELECT COUNT(*) FROM calls WHERE broadcast_id=$1 AND status = ANY($2)`
	var count int
	err := r.DB.QueryRow(query, broadcastID, pq.Array(statuses)).Scan(&count)
	return count, err
}

func (r *CallRepository) AggregateByStatus(broadcastID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM calls WHERE broadcast_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ====================== Atomic mutations ======================

var terminalStatuses = pq.Array(model.TerminalCallStatuses)

// MarkCalling records a successful dial: SID, attempt count, start time.
// If a webhook already advanced the call past calling, the later status
// is preserved and only the SID is backfilled.
func (r *CallRepository) MarkCalling(id int, providerSID string) error {
	query := `
        UPDATE calls SET
            provider_sid = COALESCE(provider_sid, $1),
            attempts = attempts + 1,
            start_time = COALESCE(start_time, NOW()),
            status = CASE WHEN status = 'queued' THEN 'calling' ELSE status END,
            retry_after = NULL,
            updated_at = NOW()
        WHERE id=$2 AND status <> ALL($3)
    `
	_, err := r.DB.Exec(query, providerSID, id, terminalStatuses)
	return err
}

func (r *CallRepository) MarkCompleted(id int, duration int) error {
	query := `
        UPDATE calls SET
            status='completed', duration=$1, end_time=NOW(), updated_at=NOW()
        WHERE id=$2 AND status <> ALL($3)
    `
	_, err := r.DB.Exec(query, duration, id, terminalStatuses)
	return err
}

// MarkFailed applies the retry policy in one statement. A retryable
// failure counts as an attempt (the dial may have died before
// MarkCalling ever ran): when attempts remain after counting it, the
// call goes back to queued with retry_after = now + the broadcast's
// retry delay; otherwise it lands terminal failed.
func (r *CallRepository) MarkFailed(id int, code, message string, retry bool) error {
	query := `
        UPDATE calls c SET
            status = CASE WHEN $1 AND c.attempts + 1 < b.max_retries + 1 THEN 'queued' ELSE 'failed' END,
            attempts = CASE WHEN $1 THEN c.attempts + 1 ELSE c.attempts END,
            retry_after = CASE WHEN $1 AND c.attempts + 1 < b.max_retries + 1
                THEN NOW() + make_interval(secs => b.retry_delay_ms / 1000.0)
                ELSE NULL END,
            end_time = CASE WHEN $1 AND c.attempts + 1 < b.max_retries + 1 THEN c.end_time ELSE NOW() END,
            provider_error_code = $2,
            provider_error_message = $3,
            updated_at = NOW()
        FROM broadcasts b
        WHERE c.id=$4 AND b.id = c.broadcast_id AND c.status <> ALL($5)
    `
	_, err := r.DB.Exec(query, retry, code, message, id, terminalStatuses)
	return err
}

func (r *CallRepository) MarkOptedOut(id int) error {
	query := `
        UPDATE calls SET
            status='opted_out', opted_out=TRUE, end_time=COALESCE(end_time, NOW()), updated_at=NOW()
        WHERE id=$1 AND status <> ALL($2)
    `
	_, err := r.DB.Exec(query, id, terminalStatuses)
	return err
}

// statusRank mirrors model.CallStatusRank for use inside a statement.
const statusRank = `CASE %s WHEN 'queued' THEN 0 WHEN 'calling' THEN 1 WHEN 'ringing' THEN 2 WHEN 'answered' THEN 3 WHEN 'in_progress' THEN 3 ELSE 4 END`

// UpdateFromWebhook applies a provider lifecycle event. Completed and
// failed statuses close the call; answered records the answer time;
// metadata keys (answered_by, error fields) are merged in. An event for
// an earlier lifecycle stage than the stored one (out-of-order or
// redelivered) is dropped.
func (r *CallRepository) UpdateFromWebhook(id int, status string, duration int, meta map[string]string) error {
	query := `
        UPDATE calls SET
            status = $1,
            duration = CASE WHEN $1 = 'completed' THEN $2 ELSE duration END,
            end_time = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE end_time END,
            answer_time = CASE WHEN $1 = 'answered' THEN COALESCE(answer_time, NOW()) ELSE answer_time END,
            metadata = metadata || $3::jsonb,
            updated_at = NOW()
        WHERE id=$4 AND status <> ALL($5)
          AND ` + fmt.Sprintf(statusRank, "status") + ` <= ` + fmt.Sprintf(statusRank, "$1::text") + `
    `
	_, err := r.DB.Exec(query, status, duration, jsonb(meta), id, terminalStatuses)
	return err
}

// CancelQueued flips every still-queued call to cancelled and reports
// how many were flipped. In-flight calls are left for their webhooks.
func (r *CallRepository) CancelQueued(broadcastID int) (int, error) {
	query := `
        UPDATE calls SET status='cancelled', end_time=NOW(), updated_at=NOW()
        WHERE broadcast_id=$1 AND status='queued'
    `
	res, err := r.DB.Exec(query, broadcastID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ====================== Listing ======================

func (r *CallRepository) ListByBroadcast(broadcastID int, status string, offset, limit int) ([]*model.Call, int, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE broadcast_id=$1`
	countQuery := `SELECT COUNT(*) FROM calls WHERE broadcast_id=$1`
	args := []interface{}{broadcastID}
	countArgs := []interface{}{broadcastID}

	if status != "" {
		query += ` AND status=$2`
		countQuery += ` AND status=$2`
		args = append(args, status)
		countArgs = append(countArgs, status)
	}
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	calls, err := r.queryCalls(query, args...)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return calls, total, nil
}

var _ CallRepositoryInterface = (*CallRepository)(nil)
