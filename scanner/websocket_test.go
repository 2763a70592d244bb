package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/config"
)

var testUpgrader = websocket.Upgrader{}

func TestWebSocketClient_SubmitsOnLibraryChanged(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/Items/") {
			_ = json.NewEncoder(w).Encode(itemDetails{
				Name:        "New Movie",
				Path:        "/media/new-movie.mp4",
				ProviderIds: map[string]string{"Imdb": "tt555"},
			})
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn <- conn
	}))
	defer server.Close()

	sub := newFakeSubmitter()
	cfg := &config.Config{
		TargetLangDefault:   "fr",
		MediaServerURL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		MediaServerAPIKey:   "k",
		WSReconnectDelay:    10 * time.Millisecond,
		WSMaxReconnectDelay: 100 * time.Millisecond,
	}
	sc := New(cfg, nil, sub)
	client := NewWebSocketClient(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	conn := <-serverConn
	defer conn.Close()

	msg := wsMessage{
		MessageType: "LibraryChanged",
	}
	data, _ := json.Marshal(libraryChangedData{ItemsAdded: []string{"item-123"}})
	msg.Data = data
	require.NoError(t, conn.WriteJSON(msg))

	require.Eventually(t, func() bool {
		return sub.callCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "/media/new-movie.mp4", sub.calls[0].VideoURL)
	assert.Equal(t, "New Movie", sub.calls[0].VideoTitle)
	assert.Equal(t, "tt555", sub.calls[0].IMDBID)

	cancel()
	<-done
}

func TestFetchItemDetails_ReturnsPathTitleAndIMDBID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Items/item-123", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		_ = json.NewEncoder(w).Encode(itemDetails{
			Name:        "New Movie",
			Path:        "/media/new-movie.mp4",
			ProviderIds: map[string]string{"Imdb": "tt555"},
		})
	}))
	defer server.Close()

	cfg := &config.Config{MediaServerURL: server.URL, MediaServerAPIKey: "k"}
	sc := New(cfg, nil, newFakeSubmitter())
	client := NewWebSocketClient(sc)

	details, err := client.fetchItemDetails(context.Background(), "item-123")
	require.NoError(t, err)
	assert.Equal(t, "/media/new-movie.mp4", details.Path)
	assert.Equal(t, "New Movie", details.Name)
	assert.Equal(t, "tt555", details.ProviderIds["Imdb"])
}

func TestWebSocketClient_RespondsToKeepAlive(t *testing.T) {
	serverConn := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn <- conn
	}))
	defer server.Close()

	sub := newFakeSubmitter()
	cfg := &config.Config{
		TargetLangDefault:   "fr",
		MediaServerURL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		MediaServerAPIKey:   "k",
		WSReconnectDelay:    10 * time.Millisecond,
		WSMaxReconnectDelay: 100 * time.Millisecond,
	}
	sc := New(cfg, nil, sub)
	client := NewWebSocketClient(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	conn := <-serverConn
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{MessageType: "KeepAlive"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply wsMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "KeepAlive", reply.MessageType)

	cancel()
	<-done
}

func TestWebSocketClient_NoOpWhenNoMediaServerConfigured(t *testing.T) {
	sub := newFakeSubmitter()
	cfg := &config.Config{TargetLangDefault: "fr"}
	sc := New(cfg, nil, sub)
	client := NewWebSocketClient(sc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("client did not exit after context cancellation")
	}
}
