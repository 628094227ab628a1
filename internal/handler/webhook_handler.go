package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/events"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/provider"
	"github.com/unclebandit/voicecast-backend/internal/repository"
	"github.com/unclebandit/voicecast-backend/internal/service"
	"github.com/unclebandit/voicecast-backend/internal/twiml"
)

// WebhookHandler consumes the provider's out-of-band callbacks: call
// lifecycle status and keypress digits. Requests are authenticated by
// signature; failures answer 403 with no body.
type WebhookHandler struct {
	CallRepo      repository.CallRepositoryInterface
	BroadcastRepo repository.BroadcastRepositoryInterface
	OptOutRepo    repository.OptOutRepositoryInterface
	Publisher     events.Publisher
	BaseURL       string
	SigningSecret string
}

// Status handles POST /broadcast/{callId}/status.
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	if !ValidSignature(r, h.BaseURL, h.SigningSecret) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	internalID, _ := strconv.Atoi(chi.URLParam(r, "id"))
	providerSID := r.PostFormValue("CallSid")
	providerStatus := r.PostFormValue("CallStatus")

	// Lookup by SID first, then by the internal id from the URL; the
	// internal-id path backfills a SID the dial response has not
	// persisted yet.
	call, err := h.CallRepo.Reconcile(internalID, providerSID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		log.Println("⚠️ status webhook: reconcile failed:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := provider.MapStatus(providerStatus)
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	meta := map[string]string{}
	if v := r.PostFormValue("AnsweredBy"); v != "" {
		meta["answered_by"] = v
	}
	if v := r.PostFormValue("ErrorCode"); v != "" {
		meta["error_code"] = v
	}
	if v := r.PostFormValue("ErrorMessage"); v != "" {
		meta["error_message"] = v
	}

	if err := h.CallRepo.UpdateFromWebhook(call.ID, status, duration, meta); err != nil {
		log.Println("⚠️ status webhook: update failed:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.Publisher.Publish(events.Room(call.BroadcastID), events.EventCallUpdate, events.CallUpdate{
		BroadcastID: call.BroadcastID,
		CallID:      call.ID,
		CallSID:     call.ProviderSID,
		Phone:       call.Phone,
		Status:      status,
		Duration:    duration,
		Timestamp:   events.Now(),
	})
	h.publishBroadcastUpdate(call.BroadcastID)

	w.WriteHeader(http.StatusOK)
}

// Keypress handles POST /broadcast/keypress, the gather action. Digit 9
// opts the callee out globally.
func (h *WebhookHandler) Keypress(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	if !ValidSignature(r, h.BaseURL, h.SigningSecret) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	providerSID := r.PostFormValue("CallSid")
	digits := r.PostFormValue("Digits")

	if digits != "9" {
		writeTwiml(w, twiml.InvalidOption())
		return
	}

	call, err := h.CallRepo.Reconcile(0, providerSID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		log.Println("⚠️ keypress webhook: reconcile failed:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.CallRepo.MarkOptedOut(call.ID); err != nil {
		log.Println("⚠️ keypress webhook: marking call opted out:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	err = h.OptOutRepo.Upsert(call.Phone, model.OptOutSourceKeypress, service.DefaultOptOutTTL, map[string]string{
		"broadcast_id": strconv.Itoa(call.BroadcastID),
		"call_sid":     providerSID,
	})
	if err != nil {
		log.Println("⚠️ keypress webhook: upserting opt-out:", err)
	}

	h.Publisher.Publish(events.Room(call.BroadcastID), events.EventCallUpdate, events.CallUpdate{
		BroadcastID: call.BroadcastID,
		CallID:      call.ID,
		CallSID:     providerSID,
		Phone:       call.Phone,
		Status:      model.CallOptedOut,
		Timestamp:   events.Now(),
	})
	h.publishBroadcastUpdate(call.BroadcastID)

	log.Printf("🔕 %s opted out via keypress on call %d", call.Phone, call.ID)
	writeTwiml(w, twiml.OptOutConfirmation())
}

// publishBroadcastUpdate recomputes aggregates and emits the delta.
// Recomputation is the authoritative stats path.
func (h *WebhookHandler) publishBroadcastUpdate(broadcastID int) {
	b, err := h.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		log.Println("⚠️ webhook: loading broadcast for stats:", err)
		return
	}
	agg, err := h.CallRepo.AggregateByStatus(broadcastID)
	if err != nil {
		log.Println("⚠️ webhook: aggregating stats:", err)
		return
	}
	active, err := h.CallRepo.CountActive(broadcastID)
	if err != nil {
		active = 0
	}
	h.Publisher.Publish(events.Room(broadcastID), events.EventBroadcastUpdate, events.BroadcastUpdate{
		BroadcastID: broadcastID,
		Status:      b.Status,
		Stats:       service.BuildStats(agg),
		ActiveCalls: active,
		Timestamp:   events.Now(),
	})
}

func writeTwiml(w http.ResponseWriter, doc *twiml.Response) {
	body, err := doc.Render()
	if err != nil {
		body, _ = twiml.ErrorScript().Render()
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(body)
}
