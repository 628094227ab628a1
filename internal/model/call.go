package model

import "time"

// Call statuses. Active = {calling, ringing, in_progress, answered};
// pending additionally includes queued; terminal = {completed, failed,
// cancelled, opted_out}. busy and no_answer are provider vocabulary:
// the webhook mapping turns them into terminal failed before they are
// persisted, so they never appear on a stored call.
const (
	CallQueued     = "queued"
	CallCalling    = "calling"
	CallRinging    = "ringing"
	CallInProgress = "in_progress"
	CallAnswered   = "answered"
	CallCompleted  = "completed"
	CallFailed     = "failed"
	CallBusy       = "busy"
	CallNoAnswer   = "no_answer"
	CallCancelled  = "cancelled"
	CallOptedOut   = "opted_out"
)

// TerminalCallStatuses are never left once entered; updates against a
// terminal call are dropped by the repository's compare-and-set.
var TerminalCallStatuses = []string{CallCompleted, CallFailed, CallCancelled, CallOptedOut}

// CallStatusRank orders the live lifecycle so a late or redelivered
// webhook can never move a call backwards. Terminal statuses rank
// highest and always apply.
func CallStatusRank(status string) int {
	switch status {
	case CallQueued:
		return 0
	case CallCalling:
		return 1
	case CallRinging:
		return 2
	case CallAnswered, CallInProgress:
		return 3
	default:
		return 4
	}
}

type Call struct {
	ID           int               `db:"id" json:"id"`
	BroadcastID  int               `db:"broadcast_id" json:"broadcast_id"`
	Phone        string            `db:"phone" json:"phone"`
	Name         string            `db:"name" json:"name"`
	CustomFields map[string]string `db:"custom_fields" json:"custom_fields,omitempty"`

	Message      string `db:"message" json:"message"`
	AudioURL     string `db:"audio_url" json:"audio_url"`
	AudioAssetID int    `db:"audio_asset_id" json:"audio_asset_id,omitempty"`

	ProviderSID string     `db:"provider_sid" json:"provider_sid,omitempty"`
	Status      string     `db:"status" json:"status"`
	Attempts    int        `db:"attempts" json:"attempts"`
	RetryAfter  *time.Time `db:"retry_after" json:"retry_after,omitempty"`

	Duration   int        `db:"duration" json:"duration"` // seconds
	StartTime  *time.Time `db:"start_time" json:"start_time,omitempty"`
	AnswerTime *time.Time `db:"answer_time" json:"answer_time,omitempty"`
	EndTime    *time.Time `db:"end_time" json:"end_time,omitempty"`

	ProviderErrorCode    string `db:"provider_error_code" json:"provider_error_code,omitempty"`
	ProviderErrorMessage string `db:"provider_error_message" json:"provider_error_message,omitempty"`

	DNDStatus string            `db:"dnd_status" json:"dnd_status"` // allowed, blocked, unchecked
	OptedOut  bool              `db:"opted_out" json:"opted_out"`
	Metadata  map[string]string `db:"metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Contact is one entry of the contact list submitted at creation time.
type Contact struct {
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}
