// Package provider adapts the external telephony provider behind a
// narrow interface. The dial request never carries inline script data;
// the provider always pulls the call script from the given URL.
package provider

import (
	"context"

	"github.com/unclebandit/voicecast-backend/internal/model"
)

// PlaceRequest describes one outbound dial.
type PlaceRequest struct {
	To string
	// ScriptURL yields the call-time instruction document, with the
	// audio URL and disclaimer embedded as query parameters.
	ScriptURL string
	// StatusCallbackURL is keyed by the internal call id so webhooks can
	// be reconciled even before the SID is persisted.
	StatusCallbackURL string
}

// PlaceResult is the provider's synchronous answer to a dial request.
// Everything after this arrives out-of-band via webhooks.
type PlaceResult struct {
	ProviderSID    string
	ProviderStatus string
}

type Dialer interface {
	Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error)
	// Terminate forces a placed call to completed. Unused by
	// cancellation on purpose; kept for an immediate-silence sweep.
	Terminate(ctx context.Context, providerSID string) error
}

// answer timeout and machine-detection window passed on every dial
const (
	answerTimeoutSeconds    = 25
	machineDetectionSeconds = 4
)

// statusMap is the fixed provider -> domain status mapping.
var statusMap = map[string]string{
	"initiated":   model.CallCalling,
	"queued":      model.CallCalling,
	"ringing":     model.CallRinging,
	"in-progress": model.CallAnswered,
	"completed":   model.CallCompleted,
	"busy":        model.CallFailed,
	"no-answer":   model.CallFailed,
	"failed":      model.CallFailed,
	"canceled":    model.CallCancelled,
}

// MapStatus translates a provider lifecycle status to the domain call
// status. Unknown statuses map to failed so a call can never get stuck
// on a vocabulary change.
func MapStatus(providerStatus string) string {
	if s, ok := statusMap[providerStatus]; ok {
		return s
	}
	return model.CallFailed
}
