package server

import (
	"net/http"
)

func Handler(store SessionStore, hub *Hub, coord *Coordinator) http.Handler {
	mux := http.NewServeMux()

	registerAgentWSRoute(mux, coord, hub)
	registerUIWSRoute(mux, hub)
	registerAPIRoutes(mux, store)

	return mux
}
