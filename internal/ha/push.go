package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PushConn is one open connection to the hub's push channel
type PushConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens push channel connections
type Dialer interface {
	Dial(ctx context.Context) (PushConn, error)
}

// PushURL derives the push channel endpoint from the hub base URL
func PushURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid hub URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported hub URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// WebsocketDialer dials the hub push channel with gorilla/websocket
type WebsocketDialer struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebsocketDialer creates a dialer for the hub at baseURL
func NewWebsocketDialer(baseURL string, handshakeTimeout time.Duration, logger *zap.Logger) (*WebsocketDialer, error) {
	pushURL, err := PushURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &WebsocketDialer{
		url: pushURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.Named("push"),
	}, nil
}

// Dial connects to the push channel
func (d *WebsocketDialer) Dial(ctx context.Context) (PushConn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to WebSocket: %v", ErrHubUnavailable, err)
	}
	d.logger.Debug("Push channel connected", zap.String("url", d.url))
	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to PushConn
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	// Best effort close frame before tearing down the socket
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// readMessage reads and decodes the next frame, bounded by timeout
func readMessage(conn PushConn, timeout time.Duration) (*Message, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHubUnavailable, err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// Authenticate runs the auth exchange on a freshly opened connection.
// It returns ErrAuthRejected when the hub answers auth_invalid.
func Authenticate(conn PushConn, token string, timeout time.Duration) error {
	authRequired, err := readMessage(conn, timeout)
	if err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != TypeAuthRequired {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: TypeAuth, AccessToken: token}); err != nil {
		return fmt.Errorf("%w: failed to send auth: %v", ErrHubUnavailable, err)
	}

	authResponse, err := readMessage(conn, timeout)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	switch authResponse.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		if authResponse.Message != "" {
			return fmt.Errorf("%w: %s", ErrAuthRejected, authResponse.Message)
		}
		return ErrAuthRejected
	default:
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}
}

// SubscribeStateChanges asks the hub for state_changed events and waits for
// the matching result frame.
func SubscribeStateChanges(conn PushConn, id int, timeout time.Duration) error {
	req := SubscribeEventsRequest{
		ID:        id,
		Type:      TypeSubscribeEvents,
		EventType: EventStateChanged,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: failed to send subscribe: %v", ErrHubUnavailable, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return fmt.Errorf("%w: timeout waiting for subscribe result", ErrHubUnavailable)
		}

		msg, err := readMessage(conn, remaining)
		if err != nil {
			return fmt.Errorf("failed to read subscribe result: %w", err)
		}
		if msg.Type != TypeResult || msg.ID != id {
			continue
		}

		if msg.Success != nil && !*msg.Success {
			if msg.Error != nil {
				return fmt.Errorf("%w: %s - %s", ErrHubRejected, msg.Error.Code, msg.Error.Message)
			}
			return fmt.Errorf("%w: subscribe failed", ErrHubRejected)
		}
		return nil
	}
}
