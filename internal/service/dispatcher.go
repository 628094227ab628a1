package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/cdn"
	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/events"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/provider"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

// DefaultPollInterval is the per-broadcast dispatch tick period.
const DefaultPollInterval = 5 * time.Second

// Dispatcher is the per-broadcast scheduler. Each registered broadcast
// owns one periodic ticker; every tick fills the concurrency gate with
// fresh calls first, then due retries, and retires the broadcast when
// nothing is pending anymore.
type Dispatcher struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
	CallRepo      repository.CallRepositoryInterface
	Compliance    *ComplianceService
	Dialer        provider.Dialer
	Uploader      cdn.Uploader
	Publisher     events.Publisher
	BaseURL       string
	PollInterval  time.Duration

	mu     sync.Mutex
	active map[int]*dispatchHandle
}

// dispatchHandle is the per-broadcast interval state. tickMu suppresses
// a tick that would overlap a previous one still waiting on I/O.
type dispatchHandle struct {
	broadcastID int
	ticker      *time.Ticker
	stop        chan struct{}
	tickMu      sync.Mutex
}

func NewDispatcher(
	broadcastRepo repository.BroadcastRepositoryInterface,
	callRepo repository.CallRepositoryInterface,
	compliance *ComplianceService,
	dialer provider.Dialer,
	uploader cdn.Uploader,
	publisher events.Publisher,
	baseURL string,
) *Dispatcher {
	return &Dispatcher{
		BroadcastRepo: broadcastRepo,
		CallRepo:      callRepo,
		Compliance:    compliance,
		Dialer:        dialer,
		Uploader:      uploader,
		Publisher:     publisher,
		BaseURL:       baseURL,
		PollInterval:  DefaultPollInterval,
		active:        make(map[int]*dispatchHandle),
	}
}

// Start registers the broadcast with the scheduler. Idempotent: a
// broadcast already registered logs a warning and nothing changes.
func (d *Dispatcher) Start(broadcastID int) {
	d.mu.Lock()
	if _, ok := d.active[broadcastID]; ok {
		d.mu.Unlock()
		log.Printf("⚠️ dispatcher already running for broadcast %d", broadcastID)
		return
	}

	h := &dispatchHandle{
		broadcastID: broadcastID,
		ticker:      time.NewTicker(d.PollInterval),
		stop:        make(chan struct{}),
	}
	d.active[broadcastID] = h
	d.mu.Unlock()

	log.Printf("▶️ dispatcher started for broadcast %d", broadcastID)

	go func() {
		// first tick immediately, then on the interval
		d.tick(h)
		for {
			select {
			case <-h.stop:
				return
			case <-h.ticker.C:
				d.tick(h)
			}
		}
	}()
}

// Stop deregisters the broadcast and halts its ticker.
func (d *Dispatcher) Stop(broadcastID int) {
	d.mu.Lock()
	h, ok := d.active[broadcastID]
	if ok {
		delete(d.active, broadcastID)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	h.ticker.Stop()
	close(h.stop)
	log.Printf("⏹ dispatcher stopped for broadcast %d", broadcastID)
}

// IsRunning reports whether the broadcast is registered.
func (d *Dispatcher) IsRunning(broadcastID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[broadcastID]
	return ok
}

// Resume re-registers broadcasts left queued or in progress, for use at
// server startup.
func (d *Dispatcher) Resume() error {
	broadcasts, err := d.BroadcastRepo.ListResumable()
	if err != nil {
		return err
	}
	for _, b := range broadcasts {
		log.Printf("🔁 resuming broadcast %d (%s)", b.ID, b.Status)
		d.Start(b.ID)
	}
	return nil
}

// tick runs one scheduling pass for the broadcast.
func (d *Dispatcher) tick(h *dispatchHandle) {
	if !h.tickMu.TryLock() {
		// previous tick still in flight, skip
		return
	}
	defer h.tickMu.Unlock()

	ctx := context.Background()
	broadcastID := h.broadcastID

	b, err := d.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			d.Stop(broadcastID)
			return
		}
		log.Printf("⚠️ tick: loading broadcast %d: %v", broadcastID, err)
		return
	}
	if b.Status == model.BroadcastCompleted || b.Status == model.BroadcastCancelled {
		d.Stop(broadcastID)
		return
	}

	if b.Status == model.BroadcastQueued {
		if err := d.BroadcastRepo.MarkInProgress(broadcastID); err != nil {
			log.Printf("⚠️ tick: marking broadcast %d in progress: %v", broadcastID, err)
			return
		}
		b.Status = model.BroadcastInProgress
	}

	active, err := d.CallRepo.CountActive(broadcastID)
	if err != nil {
		log.Printf("⚠️ tick: counting active calls for broadcast %d: %v", broadcastID, err)
		return
	}
	slots := b.Config.MaxConcurrent - active
	if slots <= 0 {
		return
	}

	batch, err := d.CallRepo.GetFresh(broadcastID, slots)
	if err != nil {
		log.Printf("⚠️ tick: selecting fresh calls for broadcast %d: %v", broadcastID, err)
		return
	}
	if len(batch) < slots {
		retries, err := d.CallRepo.GetRetryable(broadcastID, slots-len(batch))
		if err != nil {
			log.Printf("⚠️ tick: selecting retryable calls for broadcast %d: %v", broadcastID, err)
			return
		}
		batch = append(batch, retries...)
	}

	if len(batch) == 0 {
		pending, err := d.CallRepo.CountPending(broadcastID)
		if err != nil {
			log.Printf("⚠️ tick: counting pending calls for broadcast %d: %v", broadcastID, err)
			return
		}
		if pending == 0 {
			d.complete(broadcastID)
		}
		return
	}

	// Dial concurrently but join before returning so the next tick sees
	// an accurate active count. One failed dial never aborts the batch.
	verdicts := newVerdictCache()
	var wg sync.WaitGroup
	for _, call := range batch {
		wg.Add(1)
		go func(c *model.Call) {
			defer wg.Done()
			d.dial(ctx, b, c, verdicts)
		}(call)
	}
	wg.Wait()
}

// complete transitions the broadcast to completed exactly once and
// retires the ticker.
func (d *Dispatcher) complete(broadcastID int) {
	transitioned, err := d.BroadcastRepo.MarkCompleted(broadcastID)
	if err != nil {
		log.Printf("⚠️ completing broadcast %d: %v", broadcastID, err)
		return
	}
	if transitioned {
		log.Printf("🏁 broadcast %d completed", broadcastID)
		d.publishBroadcastUpdate(broadcastID, model.BroadcastCompleted)
		d.Publisher.Publish(events.GlobalRoom, events.EventBroadcastListUpdate, events.ListUpdate{
			BroadcastID: broadcastID,
			Timestamp:   events.Now(),
		})
	}
	d.Stop(broadcastID)
}

// dial runs the per-call pipeline: optimistic delta, compliance, place,
// persist, final delta. Errors resolve through the retry policy.
func (d *Dispatcher) dial(ctx context.Context, b *model.Broadcast, call *model.Call, verdicts *verdictCache) {
	d.publishCallUpdate(call, model.CallCalling)

	verdict, err := verdicts.check(ctx, d.Compliance, b, call.Phone)
	if err != nil {
		log.Printf("⚠️ compliance check for call %d: %v", call.ID, err)
		return // still queued, next tick retries the check
	}

	if verdict.Blocked {
		if err := d.CallRepo.MarkFailed(call.ID, "DND_BLOCKED", "destination is on the do-not-disturb registry", false); err != nil {
			log.Printf("⚠️ marking call %d DND-blocked: %v", call.ID, err)
			return
		}
		d.publishCallUpdate(call, model.CallFailed)
		return
	}
	if verdict.OptedOut {
		if err := d.CallRepo.MarkOptedOut(call.ID); err != nil {
			log.Printf("⚠️ marking call %d opted out: %v", call.ID, err)
			return
		}
		d.publishCallUpdate(call, model.CallOptedOut)
		return
	}

	res, err := d.Dialer.Place(ctx, provider.PlaceRequest{
		To:                call.Phone,
		ScriptURL:         d.scriptURL(call, b),
		StatusCallbackURL: d.statusCallbackURL(call.ID),
	})
	if err != nil {
		d.resolveDialFailure(call, err)
		return
	}

	if err := d.CallRepo.MarkCalling(call.ID, res.ProviderSID); err != nil {
		d.resolveDialFailure(call, fmt.Errorf("persisting dial: %w", err))
		return
	}

	call.ProviderSID = res.ProviderSID
	d.publishCallUpdate(call, model.CallCalling)
}

// resolveDialFailure hands the error to the retry policy and emits a
// delta for whichever state the call resolved to.
func (d *Dispatcher) resolveDialFailure(call *model.Call, dialErr error) {
	code, message := "DIAL_ERROR", dialErr.Error()
	var rejection *appErrors.ErrProviderRejection
	if errors.As(dialErr, &rejection) {
		code, message = rejection.Code, rejection.Message
	}
	log.Printf("⚠️ dial failed for call %d (%s): %s", call.ID, code, message)

	if err := d.CallRepo.MarkFailed(call.ID, code, message, true); err != nil {
		log.Printf("⚠️ marking call %d failed: %v", call.ID, err)
		return
	}

	// The repository decided between terminal failed and requeue.
	resolved, err := d.CallRepo.GetByID(call.ID)
	if err != nil {
		log.Printf("⚠️ reloading call %d after failure: %v", call.ID, err)
		return
	}
	d.publishCallUpdate(resolved, resolved.Status)
}

// Cancel stops dispatch, flips queued calls to cancelled and the
// broadcast to cancelled. In-flight provider calls are left alone;
// their webhooks complete them naturally. Cancelling an already
// finished broadcast is a no-op.
func (d *Dispatcher) Cancel(broadcastID int) error {
	b, err := d.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}

	d.Stop(broadcastID)

	if b.Status == model.BroadcastCompleted || b.Status == model.BroadcastCancelled {
		return nil
	}

	flipped, err := d.CallRepo.CancelQueued(broadcastID)
	if err != nil {
		return err
	}
	if err := d.BroadcastRepo.MarkCancelled(broadcastID); err != nil {
		return err
	}

	log.Printf("🛑 broadcast %d cancelled, %d queued calls flipped", broadcastID, flipped)
	d.publishBroadcastUpdate(broadcastID, model.BroadcastCancelled)
	d.Publisher.Publish(events.GlobalRoom, events.EventBroadcastListUpdate, events.ListUpdate{
		BroadcastID: broadcastID,
		Timestamp:   events.Now(),
	})
	return nil
}

// Delete removes the broadcast and everything it owns: cancel first if
// still running, then CDN assets, then the rows (calls and assets
// cascade off the broadcast).
func (d *Dispatcher) Delete(ctx context.Context, broadcastID int) error {
	b, err := d.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}

	if b.Status == model.BroadcastInProgress || b.Status == model.BroadcastQueued {
		if err := d.Cancel(broadcastID); err != nil {
			return err
		}
	}

	assets, err := d.BroadcastRepo.ListAudioAssets(broadcastID)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := d.Uploader.Delete(ctx, asset.UniqueKey+".mp3"); err != nil {
			log.Printf("⚠️ deleting CDN asset %s: %v", asset.UniqueKey, err)
		}
	}

	if err := d.BroadcastRepo.Delete(broadcastID); err != nil {
		return err
	}
	d.Publisher.Publish(events.GlobalRoom, events.EventBroadcastListUpdate, events.ListUpdate{
		BroadcastID: broadcastID,
		Timestamp:   events.Now(),
	})
	return nil
}

// ====================== URLs & events ======================

func (d *Dispatcher) scriptURL(call *model.Call, b *model.Broadcast) string {
	q := url.Values{}
	q.Set("audioUrl", call.AudioURL)
	q.Set("disclaimer", b.Config.Compliance.DisclaimerText)
	return d.BaseURL + "/broadcast/twiml?" + q.Encode()
}

func (d *Dispatcher) statusCallbackURL(callID int) string {
	return fmt.Sprintf("%s/broadcast/%d/status", d.BaseURL, callID)
}

func (d *Dispatcher) publishCallUpdate(call *model.Call, status string) {
	d.Publisher.Publish(events.Room(call.BroadcastID), events.EventCallUpdate, events.CallUpdate{
		BroadcastID: call.BroadcastID,
		CallID:      call.ID,
		CallSID:     call.ProviderSID,
		Phone:       call.Phone,
		Status:      status,
		Duration:    call.Duration,
		Timestamp:   events.Now(),
	})
}

func (d *Dispatcher) publishBroadcastUpdate(broadcastID int, status string) {
	agg, err := d.CallRepo.AggregateByStatus(broadcastID)
	if err != nil {
		log.Printf("⚠️ aggregating stats for broadcast %d: %v", broadcastID, err)
		agg = map[string]int{}
	}
	d.Publisher.Publish(events.Room(broadcastID), events.EventBroadcastUpdate, events.BroadcastUpdate{
		BroadcastID: broadcastID,
		Status:      status,
		Stats:       BuildStats(agg),
		Timestamp:   events.Now(),
	})
}

// ====================== per-tick compliance memo ======================

// verdictCache memoizes compliance answers for the duration of one tick
// so concurrent dials to the same number get one answer.
type verdictCache struct {
	mu sync.Mutex
	m  map[string]Verdict
}

func newVerdictCache() *verdictCache {
	return &verdictCache{m: make(map[string]Verdict)}
}

func (c *verdictCache) check(ctx context.Context, svc *ComplianceService, b *model.Broadcast, phone string) (Verdict, error) {
	c.mu.Lock()
	if v, ok := c.m[phone]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := svc.Check(ctx, b, phone, nil)
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	c.m[phone] = v
	c.mu.Unlock()
	return v, nil
}
