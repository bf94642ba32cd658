package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjawhar/caption-relay/internal/config"
	"github.com/sjawhar/caption-relay/internal/gdrive"
	"github.com/sjawhar/caption-relay/internal/server"
	"github.com/sjawhar/caption-relay/internal/storage"
	"github.com/sjawhar/caption-relay/internal/summary"
)

func main() {
	log.Println("captiond: starting")

	cfg, warnings, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()

	var summarize func(sessionID string)
	if cfg.OpenAIAPIKey != "" {
		summarizer := summary.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, store)
		summarize = func(sessionID string) {
			summarizeSession(ctx, store, hub, summarizer, sessionID)
		}
	}

	coord := server.NewCoordinator(store, hub, cfg.ParsedPersistInterval(), summarize)
	stop := make(chan struct{})
	go coord.Run(stop)

	httpServer := &http.Server{
		Addr:    cfg.CoordinatorListenAddr,
		Handler: server.Handler(store, hub, coord),
	}
	go func() {
		log.Printf("captiond: listening on http://%s", cfg.CoordinatorListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := syncer.Sync(cfg.DBPath); err != nil {
							log.Printf("gdrive sync error: %v", err)
						}
					}
				}
			}()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("captiond: shutting down")
	cancel()
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

// summarizeSession builds the transcript for an ended session and stores
// the summary. Skipped or duplicate transcripts leave the row untouched.
func summarizeSession(ctx context.Context, store *storage.SQLiteStore, hub *server.Hub, summarizer *summary.OpenAI, sessionID string) {
	captions, err := store.GetCaptions(sessionID)
	if err != nil {
		log.Printf("summary: load captions for %s failed: %v", sessionID, err)
		return
	}

	transcript := summary.Transcript(captions)
	text, err := summarizer.Summarize(ctx, sessionID, transcript)
	if err != nil {
		log.Printf("summary: %s failed: %v", sessionID, err)
		if updateErr := store.UpdateSummary(sessionID, "", storage.SummaryFailed); updateErr != nil {
			log.Printf("summary: mark %s failed: %v", sessionID, updateErr)
		}
		return
	}
	if text == "" {
		return
	}

	if err := store.UpdateSummary(sessionID, text, storage.SummaryCompleted); err != nil {
		log.Printf("summary: store %s failed: %v", sessionID, err)
		return
	}
	hub.BroadcastSummaryReady(sessionID, text, storage.SummaryCompleted)
	log.Printf("summary: completed for %s", sessionID)
}
