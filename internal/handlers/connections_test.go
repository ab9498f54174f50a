package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/blip/backend/internal/connections"
	"github.com/blip/backend/internal/models"
	"github.com/blip/backend/internal/repositories"
)

type testUsers struct {
	alice, bob, carol models.User
}

func newConnectionHandler(t *testing.T) (ConnectionHandler, testUsers) {
	t.Helper()

	store := repositories.NewMemoryConnectionStore()
	users := testUsers{
		alice: models.User{ID: uuid.NewString(), Username: "alice", DisplayName: "Alice Liddell", AvatarURL: "https://cdn.example.com/alice.png"},
		bob:   models.User{ID: uuid.NewString(), Username: "bob", DisplayName: "Bob Builder"},
		carol: models.User{ID: uuid.NewString(), Username: "carol", DisplayName: "Carol Danvers"},
	}
	for _, u := range []models.User{users.alice, users.bob, users.carol} {
		store.AddUser(u)
	}

	return ConnectionHandler{Connections: connections.NewService(store, store)}, users
}

func postRequest(t *testing.T, handler ConnectionHandler, ownerID, peerID string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(friendRequestPayload{UserID: ownerID, NewConnectionID: peerID})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Request(rec, req)
	return rec
}

func withConnectionID(req *http.Request, id int64) *http.Request {
	req.SetPathValue("connectionId", strconv.FormatInt(id, 10))
	return req
}

func withUserID(req *http.Request, id string) *http.Request {
	req.SetPathValue("userId", id)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func requestConnection(t *testing.T, handler ConnectionHandler, ownerID, peerID string) connectionPayload {
	t.Helper()
	rec := postRequest(t, handler, ownerID, peerID)
	expectStatus(t, rec, http.StatusCreated)
	return decode[connectionResponse](t, rec).Connection
}

func TestConnectionHandlerRequest(t *testing.T) {
	handler, users := newConnectionHandler(t)

	rec := postRequest(t, handler, users.alice.ID, users.bob.ID)
	expectStatus(t, rec, http.StatusCreated)
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type got %s", got)
	}

	resp := decode[connectionResponse](t, rec)
	if resp.Message != "Friend request sent successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.Connection.OwnerID != users.alice.ID || resp.Connection.PeerID != users.bob.ID {
		t.Fatalf("unexpected edge %+v", resp.Connection)
	}
	if resp.Connection.Status != "pending" || resp.Connection.ID <= 0 {
		t.Fatalf("expected new pending connection got %+v", resp.Connection)
	}

	expectStatus(t, postRequest(t, handler, users.bob.ID, users.alice.ID), http.StatusConflict)
	expectStatus(t, postRequest(t, handler, users.alice.ID, users.bob.ID), http.StatusConflict)
}

func TestConnectionHandlerRequestValidation(t *testing.T) {
	handler, users := newConnectionHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformedBody", body: "{", want: http.StatusBadRequest},
		{name: "missingPeer", body: `{"userId":"` + users.alice.ID + `"}`, want: http.StatusBadRequest},
		{name: "blankOwner", body: `{"userId":"  ","newConnectionId":"` + users.bob.ID + `"}`, want: http.StatusBadRequest},
		{name: "malformedID", body: `{"userId":"alice","newConnectionId":"` + users.bob.ID + `"}`, want: http.StatusBadRequest},
		{name: "self", body: `{"userId":"` + users.alice.ID + `","newConnectionId":"` + users.alice.ID + `"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			handler.Request(rec, req)

			expectStatus(t, rec, tt.want)
			if decode[errorResponse](t, rec).Error == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestConnectionHandlerRequestUnknownUser(t *testing.T) {
	handler, users := newConnectionHandler(t)
	ghost := uuid.NewString()

	rec := postRequest(t, handler, users.alice.ID, ghost)

	expectStatus(t, rec, http.StatusNotFound)
	msg := decode[errorResponse](t, rec).Error
	if !strings.Contains(msg, "user not found") || !strings.Contains(msg, ghost) {
		t.Fatalf("expected message naming user %s got %q", ghost, msg)
	}
}

func TestConnectionHandlerAcceptListsFriendsBothWays(t *testing.T) {
	handler, users := newConnectionHandler(t)
	pending := requestConnection(t, handler, users.alice.ID, users.bob.ID)

	rec := httptest.NewRecorder()
	handler.Accept(rec, withConnectionID(httptest.NewRequest(http.MethodPut, "/", nil), pending.ID))
	expectStatus(t, rec, http.StatusOK)

	accepted := decode[connectionResponse](t, rec)
	if accepted.Message != "Friend request accepted" {
		t.Fatalf("unexpected message %q", accepted.Message)
	}
	if accepted.Connection.ID != pending.ID || accepted.Connection.Status != "accepted" {
		t.Fatalf("unexpected connection %+v", accepted.Connection)
	}

	for _, tc := range []struct {
		owner, friend models.User
	}{
		{owner: users.alice, friend: users.bob},
		{owner: users.bob, friend: users.alice},
	} {
		rec := httptest.NewRecorder()
		handler.Friends(rec, withUserID(httptest.NewRequest(http.MethodGet, "/", nil), tc.owner.ID))

		expectStatus(t, rec, http.StatusOK)
		resp := decode[friendsResponse](t, rec)
		if resp.Count != 1 || len(resp.Friends) != 1 {
			t.Fatalf("expected one friend for %s got %+v", tc.owner.Username, resp)
		}
		got := resp.Friends[0]
		if got.PeerID != tc.friend.ID || got.Username != tc.friend.Username ||
			got.DisplayName != tc.friend.DisplayName || got.AvatarURL != tc.friend.AvatarURL {
			t.Fatalf("unexpected friend %+v", got)
		}
	}

	rec = httptest.NewRecorder()
	handler.Accept(rec, withConnectionID(httptest.NewRequest(http.MethodPut, "/", nil), pending.ID))
	expectStatus(t, rec, http.StatusNotFound)
}

func TestConnectionHandlerPendingAndReject(t *testing.T) {
	handler, users := newConnectionHandler(t)
	first := requestConnection(t, handler, users.alice.ID, users.carol.ID)
	second := requestConnection(t, handler, users.bob.ID, users.carol.ID)

	rec := httptest.NewRecorder()
	handler.Pending(rec, withUserID(httptest.NewRequest(http.MethodGet, "/", nil), users.carol.ID))

	expectStatus(t, rec, http.StatusOK)
	resp := decode[pendingResponse](t, rec)
	if resp.Count != 2 {
		t.Fatalf("expected two pending requests got %d", resp.Count)
	}
	if resp.PendingRequests[0].ID != second.ID || resp.PendingRequests[1].ID != first.ID {
		t.Fatalf("expected newest first got %+v", resp.PendingRequests)
	}
	if resp.PendingRequests[0].Username != "bob" {
		t.Fatalf("expected requester profile got %+v", resp.PendingRequests[0])
	}

	rec = httptest.NewRecorder()
	handler.Reject(rec, withConnectionID(httptest.NewRequest(http.MethodPut, "/", nil), first.ID))
	expectStatus(t, rec, http.StatusOK)
	if msg := decode[connectionResponse](t, rec).Message; msg != "Friend request rejected" {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = httptest.NewRecorder()
	handler.Pending(rec, withUserID(httptest.NewRequest(http.MethodGet, "/", nil), users.carol.ID))

	resp = decode[pendingResponse](t, rec)
	if resp.Count != 1 || resp.PendingRequests[0].ID != second.ID {
		t.Fatalf("expected only the second request got %+v", resp)
	}

	requestConnection(t, handler, users.alice.ID, users.carol.ID)
}

func TestConnectionHandlerRemove(t *testing.T) {
	handler, users := newConnectionHandler(t)
	pending := requestConnection(t, handler, users.alice.ID, users.bob.ID)

	rec := httptest.NewRecorder()
	handler.Accept(rec, withConnectionID(httptest.NewRequest(http.MethodPut, "/", nil), pending.ID))
	expectStatus(t, rec, http.StatusOK)

	rec = httptest.NewRecorder()
	handler.Remove(rec, withConnectionID(httptest.NewRequest(http.MethodDelete, "/", nil), pending.ID))
	expectStatus(t, rec, http.StatusOK)

	resp := decode[removedConnectionResponse](t, rec)
	if resp.Message != "Connection removed successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.DeletedConnection.ID != pending.ID || resp.DeletedConnection.Status != "accepted" {
		t.Fatalf("unexpected deleted connection %+v", resp.DeletedConnection)
	}

	for _, id := range []string{users.alice.ID, users.bob.ID} {
		rec := httptest.NewRecorder()
		handler.Friends(rec, withUserID(httptest.NewRequest(http.MethodGet, "/", nil), id))

		expectStatus(t, rec, http.StatusOK)
		friends := decode[friendsResponse](t, rec)
		if friends.Count != 0 || friends.Friends == nil {
			t.Fatalf("expected empty friend list got %+v", friends)
		}
	}

	rec = httptest.NewRecorder()
	handler.Remove(rec, withConnectionID(httptest.NewRequest(http.MethodDelete, "/", nil), pending.ID))
	expectStatus(t, rec, http.StatusNotFound)
}

func TestConnectionHandlerConnectionIDValidation(t *testing.T) {
	handler, _ := newConnectionHandler(t)

	for _, raw := range []string{"", "abc", "0", "-4", "1.5"} {
		req := httptest.NewRequest(http.MethodPut, "/", nil)
		req.SetPathValue("connectionId", raw)
		rec := httptest.NewRecorder()

		handler.Accept(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("connectionId %q: expected status 400 got %d", raw, rec.Code)
		}
	}
}

type failingLifecycle struct {
	err error
}

func (f failingLifecycle) Request(context.Context, string, string) (models.Connection, error) {
	return models.Connection{}, f.err
}

func (f failingLifecycle) Accept(context.Context, int64) (models.Connection, error) {
	return models.Connection{}, f.err
}

func (f failingLifecycle) Reject(context.Context, int64) (models.Connection, error) {
	return models.Connection{}, f.err
}

func (f failingLifecycle) Unfriend(context.Context, int64) (models.Connection, error) {
	return models.Connection{}, f.err
}

func (f failingLifecycle) ListFriends(context.Context, string) ([]models.ConnectionWithProfile, error) {
	return nil, f.err
}

func (f failingLifecycle) ListPendingIncoming(context.Context, string) ([]models.ConnectionWithProfile, error) {
	return nil, f.err
}

func TestConnectionHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: connections.ErrInvalidInput, want: http.StatusBadRequest},
		{name: "duplicate", err: connections.ErrDuplicateRelationship, want: http.StatusConflict},
		{name: "notFound", err: connections.ErrNotFound, want: http.StatusNotFound},
		{name: "userNotFound", err: connections.ErrUserNotFound, want: http.StatusNotFound},
		{name: "transaction", err: connections.ErrTransactionFailure, want: http.StatusInternalServerError},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := ConnectionHandler{Connections: failingLifecycle{err: tt.err}}

			rec := httptest.NewRecorder()
			handler.Remove(rec, withConnectionID(httptest.NewRequest(http.MethodDelete, "/", nil), 7))
			expectStatus(t, rec, tt.want)

			rec = httptest.NewRecorder()
			handler.Friends(rec, withUserID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
			expectStatus(t, rec, tt.want)
		})
	}
}

func TestConnectionHandlerWithoutService(t *testing.T) {
	handler := ConnectionHandler{}

	rec := httptest.NewRecorder()
	handler.Accept(rec, withConnectionID(httptest.NewRequest(http.MethodPut, "/", nil), 1))

	expectStatus(t, rec, http.StatusInternalServerError)
}

func TestRegisterRoutesDispatchesConnectionPaths(t *testing.T) {
	handler, users := newConnectionHandler(t)
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{Connections: handler.Connections})

	serve := func(method, path string, body []byte) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
		return rec
	}

	body, err := json.Marshal(friendRequestPayload{UserID: users.alice.ID, NewConnectionID: users.bob.ID})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	rec := serve(http.MethodPost, "/api/v1/connections", body)
	expectStatus(t, rec, http.StatusCreated)
	id := strconv.FormatInt(decode[connectionResponse](t, rec).Connection.ID, 10)

	rec = serve(http.MethodGet, "/api/v1/connections/pending/"+users.bob.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if count := decode[pendingResponse](t, rec).Count; count != 1 {
		t.Fatalf("expected one pending request got %d", count)
	}

	rec = serve(http.MethodPut, "/api/v1/connections/"+id+"/accept", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = serve(http.MethodGet, "/api/v1/connections/friends/"+users.alice.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if count := decode[friendsResponse](t, rec).Count; count != 1 {
		t.Fatalf("expected one friend got %d", count)
	}

	rec = serve(http.MethodDelete, "/api/v1/connections/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestRegisterRoutesRejectsWrongMethods(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{Connections: failingLifecycle{err: errors.New("unreachable")}})

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/api/v1/connections"},
		{method: http.MethodPost, path: "/api/v1/connections/1/accept"},
		{method: http.MethodDelete, path: "/api/v1/connections/1/reject"},
		{method: http.MethodPatch, path: "/api/v1/connections/1"},
		{method: http.MethodPost, path: "/api/v1/connections/friends/" + uuid.NewString()},
		{method: http.MethodDelete, path: "/api/v1/connections/pending/" + uuid.NewString()},
		{method: http.MethodPost, path: "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			expectStatus(t, rec, http.StatusMethodNotAllowed)
		})
	}
}
