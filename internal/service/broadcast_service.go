package service

import (
	"context"
	"log"
	"strings"
	"time"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/events"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

// Contact list bounds enforced at creation.
const (
	MinContacts = 1
	MaxContacts = 10_000
)

// Defaults applied when the create request leaves config fields unset.
const (
	DefaultMaxConcurrent = 10
	DefaultMaxRetries    = 2
)

// DefaultOptOutTTL keeps keypress opt-outs effectively permanent.
const DefaultOptOutTTL = 10 * 365 * 24 * time.Hour

type BroadcastService struct {
	BroadcastRepo     repository.BroadcastRepositoryInterface
	CallRepo          repository.CallRepositoryInterface
	OptOutRepo        repository.OptOutRepositoryInterface
	TTS               *TTSService
	Dispatcher        *Dispatcher
	Publisher         events.Publisher
	DefaultRetryDelay time.Duration
}

// CreateBroadcastRequest is the decoded /broadcast/start body.
type CreateBroadcastRequest struct {
	Name            string            `json:"name"`
	MessageTemplate string            `json:"message_template"`
	Voice           model.Voice       `json:"voice"`
	Contacts        []model.Contact   `json:"contacts"`
	MaxConcurrent   int               `json:"max_concurrent,omitempty"`
	MaxRetries      *int              `json:"max_retries,omitempty"`
	RetryDelayMs    int64             `json:"retry_delay_ms,omitempty"`
	Compliance      *model.Compliance `json:"compliance,omitempty"`
	OwnerID         string            `json:"owner_id,omitempty"`
}

// CreateBroadcastResult is the 201 body for /broadcast/start.
type CreateBroadcastResult struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	TotalContacts int    `json:"total_contacts"`
}

// BroadcastDetails is a broadcast with refreshed aggregates.
type BroadcastDetails struct {
	*model.Broadcast
	Stats       map[string]int `json:"stats"`
	ActiveCalls int            `json:"active_calls"`
}

// Create validates the request, persists the broadcast and one call per
// contact, materializes the audio once, and registers the dispatcher.
// A TTS or CDN failure leaves the broadcast in draft with no calls.
func (s *BroadcastService) Create(ctx context.Context, req CreateBroadcastRequest) (*CreateBroadcastResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	b := &model.Broadcast{
		Name:     strings.TrimSpace(req.Name),
		Template: req.MessageTemplate,
		Status:   model.BroadcastDraft,
		OwnerID:  req.OwnerID,
		Voice:    req.Voice,
		Config: model.Config{
			MaxConcurrent: req.MaxConcurrent,
			MaxRetries:    DefaultMaxRetries,
			RetryDelay:    s.DefaultRetryDelay,
			Compliance:    model.Compliance{OptOutEnabled: true},
		},
	}
	if b.Config.MaxConcurrent <= 0 {
		b.Config.MaxConcurrent = DefaultMaxConcurrent
	}
	if req.MaxRetries != nil {
		b.Config.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelayMs > 0 {
		b.Config.RetryDelay = time.Duration(req.RetryDelayMs) * time.Millisecond
	}
	if req.Compliance != nil {
		b.Config.Compliance = *req.Compliance
	}

	if err := s.BroadcastRepo.Create(b); err != nil {
		return nil, err
	}

	asset, err := s.TTS.Materialize(ctx, b)
	if err != nil {
		// stays in draft, nothing enqueued
		return nil, err
	}

	created, err := s.CallRepo.BulkCreate(b.ID, req.Contacts, func(c model.Contact) string {
		return PersonalizeMessage(b.Template, c)
	}, asset.AudioURL, asset.ID)
	if err != nil {
		return nil, err
	}

	if err := s.BroadcastRepo.MarkQueued(b.ID); err != nil {
		return nil, err
	}

	s.Publisher.Publish(events.Room(b.ID), events.EventCallsCreated, events.CallsCreated{
		BroadcastID: b.ID,
		Timestamp:   events.Now(),
	})
	s.Publisher.Publish(events.GlobalRoom, events.EventBroadcastListUpdate, events.ListUpdate{
		BroadcastID: b.ID,
		Timestamp:   events.Now(),
	})

	s.Dispatcher.Start(b.ID)
	log.Printf("🚀 broadcast %d (%q) queued with %d contacts", b.ID, b.Name, created)

	return &CreateBroadcastResult{
		ID:            b.ID,
		Name:          b.Name,
		Status:        model.BroadcastQueued,
		TotalContacts: created,
	}, nil
}

func (s *BroadcastService) validate(req CreateBroadcastRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return appErrors.NewValidation("broadcast name is required")
	}
	if len(req.Contacts) < MinContacts {
		return appErrors.NewValidation("contact list cannot be empty")
	}
	if len(req.Contacts) > MaxContacts {
		return appErrors.NewValidation("contact list exceeds the maximum of %d entries", MaxContacts)
	}
	if err := ValidateTemplate(req.MessageTemplate); err != nil {
		return err
	}
	for i, c := range req.Contacts {
		if strings.TrimSpace(c.Phone) == "" {
			return appErrors.NewValidation("contact %d has no phone number", i)
		}
	}
	return nil
}

// GetDetails returns the broadcast with aggregates recomputed from the
// calls table.
func (s *BroadcastService) GetDetails(id int) (*BroadcastDetails, error) {
	b, err := s.BroadcastRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	agg, err := s.CallRepo.AggregateByStatus(id)
	if err != nil {
		return nil, err
	}
	active, err := s.CallRepo.CountActive(id)
	if err != nil {
		return nil, err
	}
	return &BroadcastDetails{Broadcast: b, Stats: BuildStats(agg), ActiveCalls: active}, nil
}

// List fetches broadcasts with pagination.
func (s *BroadcastService) List(page, pageSize int, status, ownerID string) ([]model.Broadcast, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.BroadcastRepo.List(offset, pageSize, status, ownerID)
	if err != nil {
		return nil, nil, err
	}

	broadcasts := make([]model.Broadcast, len(ptrs))
	for i, b := range ptrs {
		broadcasts[i] = *b
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return broadcasts, pagination, nil
}

// ListCalls fetches a broadcast's calls with pagination and optional
// status filter.
func (s *BroadcastService) ListCalls(broadcastID, page, pageSize int, status string) ([]model.Call, map[string]int, error) {
	if _, err := s.BroadcastRepo.GetByID(broadcastID); err != nil {
		return nil, nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CallRepo.ListByBroadcast(broadcastID, status, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	calls := make([]model.Call, len(ptrs))
	for i, c := range ptrs {
		calls[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return calls, pagination, nil
}

// Cancel delegates to the dispatcher; cancelling a completed broadcast
// is a successful no-op.
func (s *BroadcastService) Cancel(broadcastID int) error {
	return s.Dispatcher.Cancel(broadcastID)
}

// Delete removes the broadcast, its calls and its CDN assets.
func (s *BroadcastService) Delete(ctx context.Context, broadcastID int) error {
	return s.Dispatcher.Delete(ctx, broadcastID)
}

// BuildStats buckets a raw status aggregation into the published stats
// shape. Ringing and in-progress count as calling; busy and no-answer
// count as failed. The buckets sum to total at rest.
func BuildStats(agg map[string]int) map[string]int {
	stats := map[string]int{
		"total":     0,
		"queued":    0,
		"calling":   0,
		"answered":  0,
		"completed": 0,
		"failed":    0,
		"opted_out": 0,
		"cancelled": 0,
	}
	for status, count := range agg {
		stats["total"] += count
		switch status {
		case model.CallQueued:
			stats["queued"] += count
		case model.CallCalling, model.CallRinging, model.CallInProgress:
			stats["calling"] += count
		case model.CallAnswered:
			stats["answered"] += count
		case model.CallCompleted:
			stats["completed"] += count
		case model.CallFailed, model.CallBusy, model.CallNoAnswer:
			stats["failed"] += count
		case model.CallOptedOut:
			stats["opted_out"] += count
		case model.CallCancelled:
			stats["cancelled"] += count
		}
	}
	return stats
}
