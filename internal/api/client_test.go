// internal/api/client_test.go

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpod/chatkit/internal/chat"
)

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(Response{Success: true, Data: raw})
}

func newFakeAPI(t *testing.T) (*httptest.Server, *mux.Router) {
	t.Helper()

	r := mux.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, r
}

func TestGetUserByUsername(t *testing.T) {
	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/users/by-username/{username}", func(w http.ResponseWriter, req *http.Request) {
		username := mux.Vars(req)["username"]
		if username != "ada" {
			http.NotFound(w, req)
			return
		}
		writeEnvelope(w, chat.UserInfo{ID: "u1", Username: "ada", DisplayName: "Ada L."})
	}).Methods("GET")

	c := NewClient(srv.URL, nil, nil)

	user, err := c.GetUserByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Ada L.", user.DisplayName)

	_, err = c.GetUserByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserRejectsInvalidPayload(t *testing.T) {
	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/users/by-username/{username}", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, map[string]string{"id": "u1"}) // username missing
	})

	c := NewClient(srv.URL, nil, nil)

	_, err := c.GetUserByUsername(context.Background(), "ada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user payload")
}

func TestGetConversationMessages(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	history := []*chat.Message{
		{ID: "m1", ConversationID: "c1", Sender: chat.UserInfo{ID: "u1", Username: "ada"}, Content: "first", CreatedAt: now},
		{ID: "m2", ConversationID: "c1", Sender: chat.UserInfo{ID: "u2", Username: "bob"}, Content: "second", CreatedAt: now.Add(time.Second)},
	}

	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "c1", mux.Vars(req)["id"])
		writeEnvelope(w, history)
	}).Methods("GET")

	c := NewClient(srv.URL, nil, nil)

	msgs, err := c.GetConversationMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestGetConversation(t *testing.T) {
	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/conversations/{id}", func(w http.ResponseWriter, req *http.Request) {
		if mux.Vars(req)["id"] != "c1" {
			http.NotFound(w, req)
			return
		}
		writeEnvelope(w, chat.Conversation{
			ID:   "c1",
			Kind: chat.KindRoom,
			Name: "founders",
			Participants: []*chat.Participant{
				{UserID: "u1"}, {UserID: "u2"},
			},
		})
	}).Methods("GET")

	c := NewClient(srv.URL, nil, nil)

	conv, err := c.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, chat.KindRoom, conv.Kind)
	assert.Len(t, conv.Participants, 2)

	_, err = c.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestFindDirectConversation(t *testing.T) {
	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/conversations/by-participants", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("ids") != "u1,u2" {
			http.NotFound(w, req)
			return
		}
		writeEnvelope(w, chat.Conversation{ID: "c9", Kind: chat.KindDirect})
	}).Methods("GET")

	c := NewClient(srv.URL, nil, nil)

	conv, err := c.FindDirectConversation(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)

	_, err = c.FindDirectConversation(context.Background(), []string{"u1", "u3"})
	assert.ErrorIs(t, err, ErrNoDirectConversation)
}

func TestEnvelopeErrorSurfaces(t *testing.T) {
	srv, r := newFakeAPI(t)
	r.HandleFunc("/api/v1/conversations/{id}", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: false, Error: "not a participant"})
	})

	c := NewClient(srv.URL, nil, nil)

	_, err := c.GetConversation(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a participant")
}
