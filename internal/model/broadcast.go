package model

import "time"

// Broadcast lifecycle statuses. Transitions are monotonic:
// draft -> queued -> in_progress -> completed | cancelled.
const (
	BroadcastDraft      = "draft"
	BroadcastQueued     = "queued"
	BroadcastInProgress = "in_progress"
	BroadcastCompleted  = "completed"
	BroadcastCancelled  = "cancelled"
)

type Broadcast struct {
	ID          int        `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Template    string     `db:"template" json:"template"`
	Status      string     `db:"status" json:"status"`
	OwnerID     string     `db:"owner_id" json:"owner_id,omitempty"`
	Voice       Voice      `json:"voice"`
	Config      Config     `json:"config"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Voice selects the TTS backend used to materialize the audio asset.
type Voice struct {
	Provider string `db:"voice_provider" json:"provider"`
	VoiceID  string `db:"voice_id" json:"voice_id"`
	Language string `db:"voice_language" json:"language"`
}

// Config holds per-broadcast dispatch and compliance settings.
type Config struct {
	MaxConcurrent int           `db:"max_concurrent" json:"max_concurrent"`
	MaxRetries    int           `db:"max_retries" json:"max_retries"`
	RetryDelay    time.Duration `db:"retry_delay_ms" json:"retry_delay_ms"`
	Compliance    Compliance    `json:"compliance"`
}

type Compliance struct {
	DisclaimerText string `db:"disclaimer_text" json:"disclaimer_text"`
	OptOutEnabled  bool   `db:"optout_enabled" json:"opt_out_enabled"`
	DNDRespect     bool   `db:"dnd_respect" json:"dnd_respect"`
}

// Stats are derived aggregates over the broadcast's calls. The
// authoritative path is recomputation from the calls table; nothing
// increments these in place.
type Stats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Calling   int `json:"calling"`
	Answered  int `json:"answered"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	OptedOut  int `json:"opted_out"`
	Cancelled int `json:"cancelled"`
}

// AudioAsset is the materialized TTS output for a broadcast template,
// deduplicated by the MD5 of the template text.
type AudioAsset struct {
	ID          int       `db:"id" json:"id"`
	BroadcastID int       `db:"broadcast_id" json:"broadcast_id"`
	UniqueKey   string    `db:"unique_key" json:"unique_key"`
	Text        string    `db:"text" json:"text"`
	AudioURL    string    `db:"audio_url" json:"audio_url"`
	Duration    int       `db:"duration" json:"duration"` // seconds
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
}
