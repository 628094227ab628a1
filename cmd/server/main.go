package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/unclebandit/voicecast-backend/internal/cdn"
	"github.com/unclebandit/voicecast-backend/internal/config"
	"github.com/unclebandit/voicecast-backend/internal/controller"
	"github.com/unclebandit/voicecast-backend/internal/db"
	"github.com/unclebandit/voicecast-backend/internal/events"
	"github.com/unclebandit/voicecast-backend/internal/handler"
	"github.com/unclebandit/voicecast-backend/internal/provider"
	"github.com/unclebandit/voicecast-backend/internal/repository"
	"github.com/unclebandit/voicecast-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal(err)
	}

	broadcastRepo := &repository.BroadcastRepository{DB: conn}
	callRepo := &repository.CallRepository{DB: conn}
	optOutRepo := &repository.OptOutRepository{DB: conn}

	// Event fan-out: in-memory rooms, mirrored to RabbitMQ when configured.
	var publisher events.Publisher = events.NewHub()
	if cfg.AMQPURL != "" {
		publisher = events.Multi{publisher, events.NewAMQPPublisher(cfg.AMQPURL)}
	}

	var dialer provider.Dialer
	if cfg.Provider.AccountSID != "" {
		dialer = provider.NewTwilioDialer(cfg.Provider)
	} else {
		log.Println("⚠️ No provider credentials, using mock dialer")
		dialer = provider.NewMockDialer()
	}

	uploader := cdn.NewHTTPUploader(cfg.CDN)

	var dnd service.DNDChecker = service.NoopDNDChecker{}
	if cfg.DNDEndpoint != "" {
		dnd = service.NewHTTPDNDChecker(cfg.DNDEndpoint)
	} else {
		log.Println("⚠️ No DND_ENDPOINT configured, numbers are dialed unchecked")
	}

	compliance := &service.ComplianceService{
		DND:        dnd,
		OptOutRepo: optOutRepo,
	}

	dispatcher := service.NewDispatcher(
		broadcastRepo, callRepo, compliance, dialer, uploader, publisher, cfg.BaseURL,
	)

	ttsService := &service.TTSService{
		Synth:         service.NewHTTPSynthesizer(cfg.TTS.Endpoint),
		Uploader:      uploader,
		BroadcastRepo: broadcastRepo,
	}

	broadcastService := &service.BroadcastService{
		BroadcastRepo:     broadcastRepo,
		CallRepo:          callRepo,
		OptOutRepo:        optOutRepo,
		TTS:               ttsService,
		Dispatcher:        dispatcher,
		Publisher:         publisher,
		DefaultRetryDelay: cfg.RetryDelay,
	}

	broadcastController := &controller.BroadcastController{
		BroadcastService: broadcastService,
	}

	webhookHandler := &handler.WebhookHandler{
		CallRepo:      callRepo,
		BroadcastRepo: broadcastRepo,
		OptOutRepo:    optOutRepo,
		Publisher:     publisher,
		BaseURL:       cfg.BaseURL,
		SigningSecret: cfg.SigningSecret,
	}
	twimlHandler := handler.NewTwimlHandler(cfg.BaseURL, cfg.SigningSecret)

	// Pick broadcasts back up after a restart.
	if err := dispatcher.Resume(); err != nil {
		log.Println("⚠️ resuming broadcasts:", err)
	}

	r := chi.NewRouter()

	// Broadcast routes
	r.Post("/broadcast/start", broadcastController.Start)
	r.Get("/broadcast/status/{id}", broadcastController.Status)
	r.Post("/broadcast/{id}/cancel", broadcastController.Cancel)
	r.Get("/broadcast/{id}/calls", broadcastController.Calls)
	r.Get("/broadcast/list", broadcastController.List)
	r.Delete("/broadcast/{id}", broadcastController.Delete)

	// Provider-facing routes
	r.HandleFunc("/broadcast/twiml", twimlHandler.Script)
	r.Post("/broadcast/{id}/status", webhookHandler.Status)
	r.Post("/broadcast/keypress", webhookHandler.Keypress)

	log.Printf("🚀 Server running on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
