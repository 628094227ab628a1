package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/events"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/provider"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories. It
// reproduces the gateway semantics the engine depends on: FIFO fresh
// selection, retry_after ordering, the MarkFailed retry policy and the
// terminal-state compare-and-set.
type memStore struct {
	mu         sync.Mutex
	broadcasts map[int]*model.Broadcast
	calls      map[int]*model.Call
	optOuts    map[string]time.Time
	assets     []model.AudioAsset
	nextID     int
	completes  int // MarkCompleted transitions performed
}

func newMemStore() *memStore {
	return &memStore{
		broadcasts: map[int]*model.Broadcast{},
		calls:      map[int]*model.Call{},
		optOuts:    map[string]time.Time{},
		nextID:     1,
	}
}

func (s *memStore) addBroadcast(b *model.Broadcast) *model.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextID
	s.nextID++
	if b.Status == "" {
		b.Status = model.BroadcastQueued
	}
	s.broadcasts[b.ID] = b
	return b
}

func (s *memStore) addCall(broadcastID int, phone string) *model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.Call{
		ID:          s.nextID,
		BroadcastID: broadcastID,
		Phone:       phone,
		Status:      model.CallQueued,
		DNDStatus:   "unchecked",
		CreatedAt:   time.Now(),
	}
	s.nextID++
	s.calls[c.ID] = c
	return c
}

func (s *memStore) call(id int) model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.calls[id]
}

func (s *memStore) setCallStatus(id int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id].Status = status
}

func isTerminal(status string) bool {
	for _, t := range model.TerminalCallStatuses {
		if status == t {
			return true
		}
	}
	return false
}

// ====================== BroadcastRepositoryInterface ======================

type memBroadcastRepo struct{ s *memStore }

func (r *memBroadcastRepo) Create(b *model.Broadcast) error {
	r.s.addBroadcast(b)
	return nil
}

func (r *memBroadcastRepo) GetByID(id int) (*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok {
		return nil, appErrors.NewBroadcastNotFound(id)
	}
	copied := *b
	return &copied, nil
}

func (r *memBroadcastRepo) List(offset, limit int, status, ownerID string) ([]*model.Broadcast, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Broadcast{}
	for _, b := range r.s.broadcasts {
		if status == "" || b.Status == status {
			copied := *b
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if offset >= len(out) {
		return []*model.Broadcast{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (r *memBroadcastRepo) Delete(id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.broadcasts, id)
	for cid, c := range r.s.calls {
		if c.BroadcastID == id {
			delete(r.s.calls, cid)
		}
	}
	return nil
}

func (r *memBroadcastRepo) ListResumable() ([]*model.Broadcast, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Broadcast{}
	for _, b := range r.s.broadcasts {
		if b.Status == model.BroadcastQueued || b.Status == model.BroadcastInProgress {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memBroadcastRepo) MarkQueued(id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.broadcasts[id]; ok && b.Status == model.BroadcastDraft {
		b.Status = model.BroadcastQueued
	}
	return nil
}

func (r *memBroadcastRepo) MarkInProgress(id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.broadcasts[id]; ok && b.Status == model.BroadcastQueued {
		b.Status = model.BroadcastInProgress
		if b.StartedAt == nil {
			now := time.Now()
			b.StartedAt = &now
		}
	}
	return nil
}

func (r *memBroadcastRepo) MarkCompleted(id int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if !ok || b.Status == model.BroadcastCompleted || b.Status == model.BroadcastCancelled {
		return false, nil
	}
	b.Status = model.BroadcastCompleted
	r.s.completes++
	return true, nil
}

func (r *memBroadcastRepo) MarkCancelled(id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.broadcasts[id]
	if ok && b.Status != model.BroadcastCompleted && b.Status != model.BroadcastCancelled {
		b.Status = model.BroadcastCancelled
	}
	return nil
}

func (r *memBroadcastRepo) GetAudioAsset(broadcastID int, uniqueKey string) (*model.AudioAsset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assets {
		if a.BroadcastID == broadcastID && a.UniqueKey == uniqueKey {
			copied := a
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memBroadcastRepo) CreateAudioAsset(a *model.AudioAsset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.ID = r.s.nextID
	r.s.nextID++
	a.GeneratedAt = time.Now()
	r.s.assets = append(r.s.assets, *a)
	return nil
}

func (r *memBroadcastRepo) ListAudioAssets(broadcastID int) ([]model.AudioAsset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.AudioAsset{}
	for _, a := range r.s.assets {
		if a.BroadcastID == broadcastID {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ repository.BroadcastRepositoryInterface = (*memBroadcastRepo)(nil)

// ====================== CallRepositoryInterface ======================

type memCallRepo struct{ s *memStore }

func (r *memCallRepo) BulkCreate(broadcastID int, contacts []model.Contact, message func(model.Contact) string, audioURL string, audioAssetID int) (int, error) {
	for _, c := range contacts {
		call := r.s.addCall(broadcastID, c.Phone)
		r.s.mu.Lock()
		call.Name = c.Name
		call.Message = message(c)
		call.AudioURL = audioURL
		r.s.mu.Unlock()
	}
	return len(contacts), nil
}

func (r *memCallRepo) GetByID(id int) (*model.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok {
		return nil, appErrors.NewCallNotFound(id, "")
	}
	copied := *c
	return &copied, nil
}

func (r *memCallRepo) Reconcile(internalID int, providerSID string) (*model.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if providerSID != "" {
		for _, c := range r.s.calls {
			if c.ProviderSID == providerSID {
				copied := *c
				return &copied, nil
			}
		}
	}
	c, ok := r.s.calls[internalID]
	if !ok {
		return nil, appErrors.NewCallNotFound(internalID, providerSID)
	}
	if c.ProviderSID == "" && providerSID != "" {
		c.ProviderSID = providerSID
	}
	copied := *c
	return &copied, nil
}

func (r *memCallRepo) GetFresh(broadcastID, limit int) ([]*model.Call, error) {
	return r.selectQueued(broadcastID, limit, true)
}

func (r *memCallRepo) GetRetryable(broadcastID, limit int) ([]*model.Call, error) {
	return r.selectQueued(broadcastID, limit, false)
}

func (r *memCallRepo) selectQueued(broadcastID, limit int, fresh bool) ([]*model.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	maxRetries := 0
	if b, ok := r.s.broadcasts[broadcastID]; ok {
		maxRetries = b.Config.MaxRetries
	}
	out := []*model.Call{}
	for _, c := range r.s.calls {
		if c.BroadcastID != broadcastID || c.Status != model.CallQueued {
			continue
		}
		if fresh {
			if c.Attempts != 0 {
				continue
			}
		} else {
			if c.Attempts == 0 || c.Attempts >= maxRetries+1 {
				continue
			}
			if c.RetryAfter == nil || c.RetryAfter.After(time.Now()) {
				continue
			}
		}
		copied := *c
		out = append(out, &copied)
	}
	if fresh {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].RetryAfter.Before(*out[j].RetryAfter) })
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCallRepo) CountActive(broadcastID int) (int, error) {
	return r.countIn(broadcastID, model.CallCalling, model.CallRinging, model.CallInProgress, model.CallAnswered)
}

func (r *memCallRepo) CountPending(broadcastID int) (int, error) {
	return r.countIn(broadcastID, model.CallQueued, model.CallCalling, model.CallRinging, model.CallInProgress, model.CallAnswered)
}

func (r *memCallRepo) countIn(broadcastID int, statuses ...string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.calls {
		if c.BroadcastID != broadcastID {
			continue
		}
		for _, st := range statuses {
			if c.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *memCallRepo) AggregateByStatus(broadcastID int) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	agg := map[string]int{}
	for _, c := range r.s.calls {
		if c.BroadcastID == broadcastID {
			agg[c.Status]++
		}
	}
	return agg, nil
}

func (r *memCallRepo) MarkCalling(id int, providerSID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || isTerminal(c.Status) {
		return nil
	}
	if c.ProviderSID == "" {
		c.ProviderSID = providerSID
	}
	c.Attempts++
	c.RetryAfter = nil
	if c.StartTime == nil {
		now := time.Now()
		c.StartTime = &now
	}
	if c.Status == model.CallQueued {
		c.Status = model.CallCalling
	}
	return nil
}

func (r *memCallRepo) MarkCompleted(id int, duration int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || isTerminal(c.Status) {
		return nil
	}
	c.Status = model.CallCompleted
	c.Duration = duration
	return nil
}

func (r *memCallRepo) MarkFailed(id int, code, message string, retry bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || isTerminal(c.Status) {
		return nil
	}
	b := r.s.broadcasts[c.BroadcastID]
	c.ProviderErrorCode = code
	c.ProviderErrorMessage = message
	if retry {
		c.Attempts++
	}
	if retry && b != nil && c.Attempts < b.Config.MaxRetries+1 {
		c.Status = model.CallQueued
		after := time.Now().Add(b.Config.RetryDelay)
		c.RetryAfter = &after
	} else {
		c.Status = model.CallFailed
		c.RetryAfter = nil
	}
	return nil
}

func (r *memCallRepo) MarkOptedOut(id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || isTerminal(c.Status) {
		return nil
	}
	c.Status = model.CallOptedOut
	c.OptedOut = true
	return nil
}

func (r *memCallRepo) UpdateFromWebhook(id int, status string, duration int, meta map[string]string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || isTerminal(c.Status) {
		return nil
	}
	if model.CallStatusRank(status) < model.CallStatusRank(c.Status) {
		return nil
	}
	c.Status = status
	if status == model.CallCompleted {
		c.Duration = duration
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	for k, v := range meta {
		c.Metadata[k] = v
	}
	return nil
}

func (r *memCallRepo) CancelQueued(broadcastID int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.calls {
		if c.BroadcastID == broadcastID && c.Status == model.CallQueued {
			c.Status = model.CallCancelled
			n++
		}
	}
	return n, nil
}

func (r *memCallRepo) ListByBroadcast(broadcastID int, status string, offset, limit int) ([]*model.Call, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Call{}
	for _, c := range r.s.calls {
		if c.BroadcastID == broadcastID && (status == "" || c.Status == status) {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset >= len(out) {
		return []*model.Call{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

var _ repository.CallRepositoryInterface = (*memCallRepo)(nil)

// ====================== OptOutRepositoryInterface ======================

type memOptOutRepo struct{ s *memStore }

func (r *memOptOutRepo) Upsert(phone, source string, ttl time.Duration, meta map[string]string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.optOuts[phone] = time.Now().Add(ttl)
	return nil
}

func (r *memOptOutRepo) IsActive(phone string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	expires, ok := r.s.optOuts[phone]
	return ok && expires.After(time.Now()), nil
}

func (r *memOptOutRepo) Get(phone string) (*model.OptOut, error) {
	active, _ := r.IsActive(phone)
	if !active {
		return nil, nil
	}
	return &model.OptOut{Phone: phone}, nil
}

var _ repository.OptOutRepositoryInterface = (*memOptOutRepo)(nil)

// ====================== collaborators ======================

// fakeDialer answers dials from a scripted function and records every
// request.
type fakeDialer struct {
	mu     sync.Mutex
	placed []provider.PlaceRequest
	place  func(req provider.PlaceRequest) (*provider.PlaceResult, error)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{place: func(provider.PlaceRequest) (*provider.PlaceResult, error) {
		return &provider.PlaceResult{ProviderSID: "CA" + uuid.NewString(), ProviderStatus: "queued"}, nil
	}}
}

func (d *fakeDialer) Place(ctx context.Context, req provider.PlaceRequest) (*provider.PlaceResult, error) {
	d.mu.Lock()
	d.placed = append(d.placed, req)
	fn := d.place
	d.mu.Unlock()
	return fn(req)
}

func (d *fakeDialer) Terminate(ctx context.Context, providerSID string) error { return nil }

func (d *fakeDialer) placedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.placed)
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Message
}

func (p *recordingPublisher) Publish(room, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events.Message{Room: room, Event: event, Payload: payload})
}

func (p *recordingPublisher) byEvent(event string) []events.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []events.Message{}
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeUploader records uploads and deletions.
type fakeUploader struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	deleted  []string
	failWith error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploads: map[string][]byte{}}
}

func (u *fakeUploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failWith != nil {
		return "", u.failWith
	}
	u.uploads[key] = data
	return "https://cdn.example.com/audio/" + key, nil
}

func (u *fakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, key)
	return nil
}

// fakeSynth returns fixed audio bytes.
type fakeSynth struct {
	audio    []byte
	duration int
	err      error
	calls    int
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string, voice model.Voice) ([]byte, int, error) {
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.audio, s.duration, nil
}

// staticDND always answers the same verdict.
type staticDND struct{ verdict string }

func (d staticDND) Check(ctx context.Context, phone string) string { return d.verdict }
