package provider

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// MockDialer stands in for the real provider when no credentials are
// configured. Every dial succeeds immediately; no webhooks follow, so
// calls stay in calling until terminated externally.
type MockDialer struct {
	mu     sync.Mutex
	placed []PlaceRequest
}

func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

func (d *MockDialer) Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	d.mu.Lock()
	d.placed = append(d.placed, req)
	d.mu.Unlock()

	sid := "MK" + uuid.NewString()
	log.Printf("📞 mock dial to %s (sid %s)", req.To, sid)
	return &PlaceResult{ProviderSID: sid, ProviderStatus: "queued"}, nil
}

func (d *MockDialer) Terminate(ctx context.Context, providerSID string) error {
	log.Printf("📞 mock terminate %s", providerSID)
	return nil
}

// Placed returns a copy of every dial request seen so far.
func (d *MockDialer) Placed() []PlaceRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PlaceRequest, len(d.placed))
	copy(out, d.placed)
	return out
}

var _ Dialer = (*MockDialer)(nil)
