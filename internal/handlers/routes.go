package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.Database}
	connections := ConnectionHandler{Connections: deps.Connections}

	mux.HandleFunc("GET /healthz", health.Handle)
	mux.HandleFunc("POST /api/v1/connections", connections.Request)
	mux.HandleFunc("PUT /api/v1/connections/{connectionId}/accept", connections.Accept)
	mux.HandleFunc("PUT /api/v1/connections/{connectionId}/reject", connections.Reject)
	mux.HandleFunc("DELETE /api/v1/connections/{connectionId}", connections.Remove)
	mux.HandleFunc("GET /api/v1/connections/friends/{userId}", connections.Friends)
	mux.HandleFunc("GET /api/v1/connections/pending/{userId}", connections.Pending)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Connections ConnectionLifecycle
	Database    Pinger
}
