// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gauthier-th/whisper-dashboard/auth"
	"github.com/gauthier-th/whisper-dashboard/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServer serves the hub with the viewer named in the "user" query
// parameter; "root" is an admin.
func newServer(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		h.ServeWS(w, r, &auth.TokenInfo{UserID: user, Admin: user == "root"})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubFiltersByOwner(t *testing.T) {
	h := NewHub()
	url := newServer(t, h)

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	root := dial(t, url, "root")
	require.Eventually(t, func() bool { return h.Clients() == 3 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(store.Transcription{ID: 1, Owner: "alice", Status: store.StatusProcessing})
	h.Publish(store.Transcription{ID: 2, Owner: "bob", Status: store.StatusDone})

	msg := read(t, alice)
	assert.Equal(t, TypeTranscription, msg.Type)
	assert.Equal(t, int64(1), msg.Transcription.ID)
	assert.Equal(t, store.StatusProcessing, msg.Transcription.Status)

	msg = read(t, bob)
	assert.Equal(t, int64(2), msg.Transcription.ID)

	assert.Equal(t, int64(1), read(t, root).Transcription.ID)
	assert.Equal(t, int64(2), read(t, root).Transcription.ID)
}

func TestHubPublishDeleted(t *testing.T) {
	h := NewHub()
	url := newServer(t, h)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.PublishDeleted(store.Transcription{ID: 9, Owner: "alice"})
	msg := read(t, conn)
	assert.Equal(t, TypeDeleted, msg.Type)
	assert.Equal(t, int64(9), msg.Transcription.ID)
}

func TestHubDisconnect(t *testing.T) {
	h := NewHub()
	url := newServer(t, h)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing with nobody listening is fine.
	h.Publish(store.Transcription{ID: 1, Owner: "alice"})
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	h := NewHub()
	viewer := &auth.TokenInfo{UserID: "alice"}
	c := &client{viewer: viewer, send: make(chan []byte, sendBuffer)}
	require.True(t, h.register(c))

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*3; i++ {
			h.Publish(store.Transcription{ID: int64(i), Owner: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full client")
	}
	assert.Len(t, c.send, sendBuffer)
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	url := newServer(t, h)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Close()
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// New clients are turned away.
	late := dial(t, url, "bob")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
