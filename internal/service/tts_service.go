package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/cdn"
	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

const ttsTimeout = 30 * time.Second

// Synthesizer turns text into raw audio bytes. The real TTS service is
// an external collaborator behind this surface.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice model.Voice) (audio []byte, durationSec int, err error)
}

// HTTPSynthesizer posts to the configured TTS HTTP endpoint and expects
// raw audio bytes back. A duration may be reported via header.
type HTTPSynthesizer struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPSynthesizer(endpoint string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: ttsTimeout},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, voice model.Voice) ([]byte, int, error) {
	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"voice":    voice.VoiceID,
		"provider": voice.Provider,
		"language": voice.Language,
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("TTS returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	if len(audio) == 0 {
		return nil, 0, fmt.Errorf("TTS returned empty audio")
	}

	duration := 0
	if h := resp.Header.Get("X-Audio-Duration"); h != "" {
		duration, _ = strconv.Atoi(h)
	}
	return audio, duration, nil
}

var _ Synthesizer = (*HTTPSynthesizer)(nil)

// TTSService materializes a broadcast's audio asset: hash the template,
// synthesize once, upload to the CDN, persist the asset row. Templates
// are deduplicated per broadcast by the MD5 of their text.
type TTSService struct {
	Synth         Synthesizer
	Uploader      cdn.Uploader
	BroadcastRepo repository.BroadcastRepositoryInterface
}

// AssetKey is the dedupe key for a template text.
func AssetKey(templateText string) string {
	sum := md5.Sum([]byte(templateText))
	return hex.EncodeToString(sum[:])
}

// EstimateDuration approximates spoken length at 2.5 words per second,
// used when the TTS service does not report one.
func EstimateDuration(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / 2.5))
}

// Materialize ensures the broadcast has an audio asset for its template
// and returns it. Reuse is keyed on the template hash; a failure leaves
// the broadcast untouched in draft.
func (s *TTSService) Materialize(ctx context.Context, b *model.Broadcast) (*model.AudioAsset, error) {
	key := AssetKey(b.Template)

	existing, err := s.BroadcastRepo.GetAudioAsset(b.ID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("♻️ reusing audio asset %s for broadcast %d", key, b.ID)
		return existing, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ttsTimeout)
	defer cancel()

	audio, duration, err := s.Synth.Synthesize(ctx, b.Template, b.Voice)
	if err != nil {
		return nil, appErrors.NewTTSUnavailable(err)
	}
	if duration <= 0 {
		duration = EstimateDuration(b.Template)
	}

	audioURL, err := s.Uploader.Upload(ctx, key+".mp3", "audio/mpeg", audio)
	if err != nil {
		return nil, err
	}

	asset := &model.AudioAsset{
		BroadcastID: b.ID,
		UniqueKey:   key,
		Text:        b.Template,
		AudioURL:    audioURL,
		Duration:    duration,
	}
	if err := s.BroadcastRepo.CreateAudioAsset(asset); err != nil {
		return nil, err
	}

	log.Printf("🔊 materialized audio asset %s (%ds) for broadcast %d", key, duration, b.ID)
	return asset, nil
}
