package model

import "time"

// Opt-out sources.
const (
	OptOutSourceKeypress = "broadcast_keypress"
	OptOutSourceManual   = "manual"
	OptOutSourceDND      = "dnd_registry"
	OptOutSourceAPI      = "api"
)

// OptOut is a globally phone-keyed suppression record. A record is
// active iff ExpiresAt is in the future; expired rows are ignored by
// every read, application code never sweeps them.
type OptOut struct {
	ID         int               `db:"id" json:"id"`
	Phone      string            `db:"phone" json:"phone"`
	Source     string            `db:"source" json:"source"`
	OptedOutAt time.Time         `db:"opted_out_at" json:"opted_out_at"`
	ExpiresAt  time.Time         `db:"expires_at" json:"expires_at"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
}
