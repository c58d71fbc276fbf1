package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"CapTrades/internal/domain/models"
	drepo "CapTrades/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a SignalStream backed by the signal pipeline WebSocket.
type Client struct {
	apiKey         string
	websocketURL   string
	channels       []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new WebSocket SignalStream.
func New(apiKey, websocketURL string, channels []string, reconnectDelay, pingInterval time.Duration) drepo.SignalStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		channels:       channels,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("feed: connected")
	return nil
}

// Subscribe subscribes to configured signal channels.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, ch := range c.channels {
		msg := map[string]string{"type": "subscribe", "channel": ch}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		log.Printf("feed: subscribed %s", ch)
	}
	return nil
}

type feedMessage struct {
	Type string                `json:"type"`
	Data []models.SignalRecord `json:"data"`
}

// Read streams signal records and errors.
func (c *Client) Read(ctx context.Context) (<-chan models.SignalRecord, <-chan error) {
	signals := make(chan models.SignalRecord, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(signals)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("feed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				var m feedMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-signal frames
					continue
				}
				if m.Type != "signals" {
					continue
				}
				for _, rec := range m.Data {
					select {
					case signals <- rec:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return signals, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
