package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blip/backend/internal/connections"
	"github.com/blip/backend/internal/logging"
	"github.com/blip/backend/internal/models"
)

// ConnectionHandler exposes the friend connection lifecycle over HTTP. Method
// matching is left to the route patterns in RegisterRoutes.
type ConnectionHandler struct {
	Connections ConnectionLifecycle
}

type friendRequestPayload struct {
	UserID          string `json:"userId"`
	NewConnectionID string `json:"newConnectionId"`
}

type connectionPayload struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"ownerId"`
	PeerID    string    `json:"peerId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type connectionWithProfilePayload struct {
	connectionPayload
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type connectionResponse struct {
	Message    string            `json:"message"`
	Connection connectionPayload `json:"connection"`
}

type removedConnectionResponse struct {
	Message           string            `json:"message"`
	DeletedConnection connectionPayload `json:"deletedConnection"`
}

type friendsResponse struct {
	Message string                         `json:"message"`
	Count   int                            `json:"count"`
	Friends []connectionWithProfilePayload `json:"friends"`
}

type pendingResponse struct {
	Message         string                         `json:"message"`
	Count           int                            `json:"count"`
	PendingRequests []connectionWithProfilePayload `json:"pendingRequests"`
}

// Request handles POST /api/v1/connections.
func (h ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Connections == nil {
		respondError(ctx, w, http.StatusInternalServerError, "connection service unavailable")
		return
	}

	var req friendRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.NewConnectionID = strings.TrimSpace(req.NewConnectionID)
	if req.UserID == "" || req.NewConnectionID == "" {
		respondError(ctx, w, http.StatusBadRequest, "userId and newConnectionId are required")
		return
	}

	conn, err := h.Connections.Request(ctx, req.UserID, req.NewConnectionID)
	if err != nil {
		h.fail(ctx, w, "send friend request", err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, connectionResponse{
		Message:    "Friend request sent successfully",
		Connection: toConnectionPayload(conn),
	})
}

// Accept handles PUT /api/v1/connections/{connectionId}/accept.
func (h ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept friend request", "Friend request accepted", ConnectionLifecycle.Accept)
}

// Reject handles PUT /api/v1/connections/{connectionId}/reject.
func (h ConnectionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject friend request", "Friend request rejected", ConnectionLifecycle.Reject)
}

// Remove handles DELETE /api/v1/connections/{connectionId}.
func (h ConnectionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Connections == nil {
		respondError(ctx, w, http.StatusInternalServerError, "connection service unavailable")
		return
	}

	id, ok := connectionIDFromPath(ctx, w, r)
	if !ok {
		return
	}

	removed, err := h.Connections.Unfriend(ctx, id)
	if err != nil {
		h.fail(ctx, w, "remove connection", err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, removedConnectionResponse{
		Message:           "Connection removed successfully",
		DeletedConnection: toConnectionPayload(removed),
	})
}

// Friends handles GET /api/v1/connections/friends/{userId}.
func (h ConnectionHandler) Friends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Connections == nil {
		respondError(ctx, w, http.StatusInternalServerError, "connection service unavailable")
		return
	}

	userID, ok := userIDFromPath(ctx, w, r)
	if !ok {
		return
	}

	friends, err := h.Connections.ListFriends(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "list friends", err)
		return
	}

	payload := toProfilePayloads(friends)
	respondJSON(ctx, w, http.StatusOK, friendsResponse{
		Message: "Friends retrieved successfully",
		Count:   len(payload),
		Friends: payload,
	})
}

// Pending handles GET /api/v1/connections/pending/{userId}.
func (h ConnectionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Connections == nil {
		respondError(ctx, w, http.StatusInternalServerError, "connection service unavailable")
		return
	}

	userID, ok := userIDFromPath(ctx, w, r)
	if !ok {
		return
	}

	pending, err := h.Connections.ListPendingIncoming(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "list pending requests", err)
		return
	}

	payload := toProfilePayloads(pending)
	respondJSON(ctx, w, http.StatusOK, pendingResponse{
		Message:         "Pending requests retrieved successfully",
		Count:           len(payload),
		PendingRequests: payload,
	})
}

func (h ConnectionHandler) transition(w http.ResponseWriter, r *http.Request, action, message string, op func(ConnectionLifecycle, context.Context, int64) (models.Connection, error)) {
	ctx := r.Context()
	if h.Connections == nil {
		respondError(ctx, w, http.StatusInternalServerError, "connection service unavailable")
		return
	}

	id, ok := connectionIDFromPath(ctx, w, r)
	if !ok {
		return
	}

	conn, err := op(h.Connections, ctx, id)
	if err != nil {
		h.fail(ctx, w, action, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, connectionResponse{
		Message:    message,
		Connection: toConnectionPayload(conn),
	})
}

func (h ConnectionHandler) fail(ctx context.Context, w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, connections.ErrInvalidInput):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, connections.ErrDuplicateRelationship):
		respondError(ctx, w, http.StatusConflict, "connection request already exists or users are already connected")
	case errors.Is(err, connections.ErrUserNotFound):
		respondError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, connections.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "connection not found")
	default:
		logging.FromContext(ctx).Error(action, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to "+action)
	}
}

func connectionIDFromPath(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("connectionId"))
	if raw == "" {
		respondError(ctx, w, http.StatusBadRequest, "connection id is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(ctx, w, http.StatusBadRequest, "connection id must be a positive integer")
		return 0, false
	}
	return id, true
}

func userIDFromPath(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.PathValue("userId"))
	if userID == "" {
		respondError(ctx, w, http.StatusBadRequest, "user id is required")
		return "", false
	}
	return userID, true
}

func toConnectionPayload(conn models.Connection) connectionPayload {
	return connectionPayload{
		ID:        conn.ID,
		OwnerID:   conn.OwnerID,
		PeerID:    conn.PeerID,
		Status:    string(conn.Status),
		CreatedAt: conn.CreatedAt,
	}
}

func toProfilePayloads(rows []models.ConnectionWithProfile) []connectionWithProfilePayload {
	out := make([]connectionWithProfilePayload, 0, len(rows))
	for _, row := range rows {
		out = append(out, connectionWithProfilePayload{
			connectionPayload: toConnectionPayload(row.Connection),
			Username:          row.Profile.Username,
			DisplayName:       row.Profile.DisplayName,
			AvatarURL:         row.Profile.AvatarURL,
		})
	}
	return out
}
