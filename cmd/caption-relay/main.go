package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sjawhar/caption-relay/internal/agent"
	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/config"
	"github.com/sjawhar/caption-relay/internal/extract"
	"github.com/sjawhar/caption-relay/internal/feed"
	"github.com/sjawhar/caption-relay/internal/page"
	"github.com/sjawhar/caption-relay/internal/protocol"
	"github.com/sjawhar/caption-relay/internal/registry"
)

// captureHost owns the live extractor. One meeting is captured at a time;
// switching platforms tears the old extractor down and starts a fresh one.
type captureHost struct {
	cfg config.Config
	doc *page.Document
	pub extract.Publisher

	mu       sync.Mutex
	ex       *extract.Extractor
	stop     chan struct{}
	platform caption.Platform
}

func (h *captureHost) ensure(platform caption.Platform) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ex != nil && h.platform == platform {
		return
	}
	h.teardownLocked()

	exCfg := extract.Config{
		Platform:       platform,
		FlushThreshold: h.cfg.FlushThreshold,
		FlushInterval:  h.cfg.ParsedFlushInterval(),
	}
	if sel, ok := h.cfg.SelectorsFor(string(platform)); ok {
		for _, s := range sel.Containers {
			exCfg.ContainerSelectors = append(exCfg.ContainerSelectors, page.Selector(s))
		}
		exCfg.TextSelector = page.Selector(sel.TextSelector)
		exCfg.SpeakerSelector = page.Selector(sel.SpeakerSelector)
	}

	h.ex = extract.New(exCfg, h.doc, h.pub)
	h.stop = make(chan struct{})
	h.platform = platform
	go h.ex.Run(h.stop)
	log.Printf("extractor started for %s", platform)
}

func (h *captureHost) teardownLocked() {
	if h.ex == nil {
		return
	}
	close(h.stop)
	h.ex = nil
	h.stop = nil
}

func (h *captureHost) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked()
}

// Dispatch delivers capture commands to the live extractor. The tab id is
// carried for the coordinator's benefit; locally there is one extractor.
func (h *captureHost) Dispatch(_ int, cmd protocol.Command) error {
	h.mu.Lock()
	ex := h.ex
	h.mu.Unlock()

	if ex == nil {
		return fmt.Errorf("no active extractor")
	}
	ex.Dispatch(cmd)
	return nil
}

func (h *captureHost) status() (protocol.Status, bool) {
	h.mu.Lock()
	ex := h.ex
	h.mu.Unlock()

	if ex == nil {
		return protocol.Status{}, false
	}
	return ex.Status(), true
}

// notificationBridge routes extractor and feed notifications through the
// agent's handler table.
type notificationBridge struct {
	handler protocol.NotificationHandler
}

func (b *notificationBridge) Publish(n protocol.Notification) {
	if err := b.handler.Handle(n); err != nil {
		log.Printf("notification dropped: %v", err)
	}
}

func main() {
	log.Println("caption-relay: starting")

	cfg, warnings, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	doc := page.NewDocument()
	reg := registry.NewStore()
	hub := newUIHub()
	notifier := &uiNotifier{hub: hub}
	bridge := &notificationBridge{}

	host := &captureHost{cfg: cfg, doc: doc, pub: bridge}

	a := agent.New(agent.Config{
		URL:                  cfg.CoordinatorURL,
		ReconnectDelay:       cfg.ParsedReconnectDelay(),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, agent.WSDialer{}, reg, notifier, host)
	bridge.handler = a.NotificationHandler()

	a.Start()

	mux := http.NewServeMux()
	mux.Handle("GET /feed", feed.Handler(doc, bridge))
	mux.Handle("GET /ws", hub.handler())

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"agent": a.Status()}
		if st, ok := host.status(); ok {
			payload["capture"] = st
		}
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TabID int    `json:"tabId"`
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		platform := caption.DetectPlatform(doc.URL())
		if platform == caption.PlatformUnknown {
			writeJSONError(w, http.StatusConflict, "no meeting detected in the monitored tab")
			return
		}

		host.ensure(platform)
		sessionID, err := a.RequestStartCapture(req.TabID, req.Title, platform)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
	})

	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"sessionId"`
			TabID     int    `json:"tabId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		a.RequestStopCapture(req.SessionID, req.TabID)
		w.WriteHeader(http.StatusNoContent)
	})

	httpServer := &http.Server{Addr: cfg.AgentListenAddr, Handler: mux}
	go func() {
		log.Printf("caption-relay: local API on http://%s", cfg.AgentListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("caption-relay: shutting down")

	// Stop any live capture first so buffered captions flush while the
	// connection may still be up.
	for _, sess := range a.Status().ActiveSessions {
		a.RequestStopCapture(sess.ID, sess.TabID)
	}

	host.shutdown()
	a.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
