package feed

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/caption-relay/internal/page"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler accepts the companion's websocket and replays its batches onto
// the document. One companion connection is live at a time; batches are
// applied in arrival order by the read loop.
func Handler(doc *page.Document, publisher Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("feed: ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		applier := NewApplier(doc, publisher)
		log.Printf("feed: companion connected from %s", r.RemoteAddr)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("feed: companion disconnected: %v", err)
				return
			}

			var batch Batch
			if err := json.Unmarshal(data, &batch); err != nil {
				log.Printf("feed: dropping malformed batch: %v", err)
				continue
			}
			if err := applier.Apply(batch); err != nil {
				log.Printf("feed: dropping batch: %v", err)
			}
		}
	})
}
