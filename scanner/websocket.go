package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensubs-io/subsync/log"
)

// wsMessage covers both message kinds the media server's WebSocket sends
// (§4.5): LibraryChanged item notifications and KeepAlive pings.
type wsMessage struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data"`
}

type libraryChangedData struct {
	ItemsAdded   []string `json:"ItemsAdded"`
	ItemsUpdated []string `json:"ItemsUpdated"`
}

// itemDetails is the subset of the media server's `GET /Items/{id}` response
// (§4.5: "fetching item details and submitting") the scanner needs to turn
// an opaque library item id into a submittable video reference.
type itemDetails struct {
	Name        string            `json:"Name"`
	Path        string            `json:"Path"`
	ProviderIds map[string]string `json:"ProviderIds"`
}

// WebSocketClient connects to the configured media server's WebSocket
// endpoint and reconnects with exponential backoff, resetting the delay on
// each successful connect (§4.5).
type WebSocketClient struct {
	scanner *Scanner
}

func NewWebSocketClient(s *Scanner) *WebSocketClient {
	return &WebSocketClient{scanner: s}
}

// Run blocks, reconnecting as needed, until ctx is cancelled.
func (c *WebSocketClient) Run(ctx context.Context) error {
	if c.scanner.cfg.MediaServerURL == "" {
		<-ctx.Done()
		return nil
	}

	delay := c.scanner.cfg.WSReconnectDelay
	maxDelay := c.scanner.cfg.WSMaxReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.LogError("", "scanner websocket connection lost", err)
		}
		if connected {
			delay = c.scanner.cfg.WSReconnectDelay
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// connectAndServe dials once and reads messages until the connection drops
// or ctx is cancelled. The returned bool reports whether the dial itself
// succeeded, independent of how the read loop later ended, so the caller
// only resets its backoff delay on a connection that was actually live.
func (c *WebSocketClient) connectAndServe(ctx context.Context) (bool, error) {
	wsURL, err := c.dialURL()
	if err != nil {
		return false, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.LogNoJobID("scanner websocket connected", "url", wsURL)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.handleMessage(ctx, conn, raw)
	}
}

func (c *WebSocketClient) dialURL() (string, error) {
	u, err := url.Parse(c.scanner.cfg.MediaServerURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", c.scanner.cfg.MediaServerAPIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetchItemDetails resolves a library item id to the video path, title and
// IMDB id the orchestrator's submission API needs, via the media server's
// own REST surface (the same MEDIA_SERVER_URL/MEDIA_SERVER_API_KEY the
// WebSocket connection uses).
func (c *WebSocketClient) fetchItemDetails(ctx context.Context, itemID string) (itemDetails, error) {
	u, err := url.Parse(c.scanner.cfg.MediaServerURL)
	if err != nil {
		return itemDetails{}, err
	}
	u.Scheme = httpScheme(u.Scheme)
	u.Path = path.Join(u.Path, "Items", itemID)
	q := u.Query()
	q.Set("api_key", c.scanner.cfg.MediaServerAPIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return itemDetails{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return itemDetails{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return itemDetails{}, fmt.Errorf("media server returned %d for item %s", resp.StatusCode, itemID)
	}

	var details itemDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return itemDetails{}, err
	}
	return details, nil
}

// httpScheme maps the WebSocket connection's scheme to its HTTP
// counterpart, since the media server serves its REST API over the same
// host but not over ws:// or wss://.
func httpScheme(wsScheme string) string {
	switch wsScheme {
	case "wss":
		return "https"
	case "ws":
		return "http"
	default:
		return wsScheme
	}
}

func (c *WebSocketClient) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.LogNoJobID("scanner websocket received malformed message", "err", err)
		return
	}

	switch msg.MessageType {
	case "KeepAlive":
		_ = conn.WriteJSON(wsMessage{MessageType: "KeepAlive"})
	case "LibraryChanged":
		var data libraryChangedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.LogNoJobID("scanner websocket received malformed LibraryChanged payload", "err", err)
			return
		}
		for _, itemID := range append(data.ItemsAdded, data.ItemsUpdated...) {
			details, err := c.fetchItemDetails(ctx, itemID)
			if err != nil {
				log.LogError("", "scanner failed to fetch item details for changed library item", err, "item_id", itemID)
				continue
			}
			if details.Path == "" {
				log.LogNoJobID("scanner skipping library item with no resolvable path", "item_id", itemID)
				continue
			}
			c.scanner.submit(ctx, details.Path, details.Name, details.ProviderIds["Imdb"])
		}
	}
}
