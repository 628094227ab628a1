package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/twiml"
)

const probeTimeout = 3 * time.Second

// TwimlHandler serves the call-time script document the provider fetches
// when a call connects. Requests carry the same provider signature the
// webhooks do.
type TwimlHandler struct {
	BaseURL       string
	SigningSecret string
	// Probe HEADs the audio URL, best-effort; nil disables probing.
	Probe *http.Client
}

func NewTwimlHandler(baseURL, signingSecret string) *TwimlHandler {
	return &TwimlHandler{
		BaseURL:       baseURL,
		SigningSecret: signingSecret,
		Probe:         &http.Client{Timeout: probeTimeout},
	}
}

// Script handles GET (or POST) /broadcast/twiml?audioUrl=...&disclaimer=...
// Past the signature check, any failure degrades to a short spoken error
// document; the callee never hears silence.
func (h *TwimlHandler) Script(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	if !ValidSignature(r, h.BaseURL, h.SigningSecret) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	audioURL := r.URL.Query().Get("audioUrl")
	disclaimer := r.URL.Query().Get("disclaimer")

	if audioURL == "" {
		log.Println("⚠️ twiml: request without audioUrl")
		writeTwiml(w, twiml.ErrorScript())
		return
	}

	h.probeAudio(audioURL)

	doc := twiml.BroadcastScript(audioURL, disclaimer, h.BaseURL+"/broadcast/keypress")
	writeTwiml(w, doc)
}

// probeAudio HEADs the audio asset without blocking the response; an
// unreachable asset only logs.
func (h *TwimlHandler) probeAudio(audioURL string) {
	if h.Probe == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, audioURL, nil)
		if err != nil {
			return
		}
		resp, err := h.Probe.Do(req)
		if err != nil {
			log.Printf("⚠️ twiml: audio asset unreachable: %v", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("⚠️ twiml: audio asset %s returned %d", audioURL, resp.StatusCode)
		}
	}()
}
