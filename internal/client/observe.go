package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/types"
)

// ObserverConn is a live observer attached to the daemon. Notifications
// arrive on Notifications(); commands go out through the typed senders.
type ObserverConn struct {
	conn  *websocket.Conn
	notes chan types.Notification
	done  chan struct{}
}

// Observe dials the observer endpoint. A non-empty sessionID attaches to
// that session immediately; the daemon replies with its state and history.
func (c *Client) Observe(ctx context.Context, sessionID string) (*ObserverConn, error) {
	if err := c.ensureToken(); err != nil {
		return nil, err
	}
	endpoint := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/observe"
	query := url.Values{}
	query.Set("token", c.token)
	if sessionID != "" {
		query.Set("session_id", sessionID)
	}
	endpoint += "?" + query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial observer: %w", err)
	}

	oc := &ObserverConn{
		conn:  conn,
		notes: make(chan types.Notification, 64),
		done:  make(chan struct{}),
	}
	go oc.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-oc.done:
		}
	}()
	return oc, nil
}

// Notifications is closed when the connection ends.
func (o *ObserverConn) Notifications() <-chan types.Notification {
	return o.notes
}

func (o *ObserverConn) Chat(content string, attachments []types.Attachment) error {
	return o.send(types.Command{
		Type:        types.CommandChat,
		Content:     content,
		Attachments: attachments,
	})
}

func (o *ObserverConn) Resume(sessionID string) error {
	return o.send(types.Command{Type: types.CommandResume, SessionID: sessionID})
}

func (o *ObserverConn) Branch(sourceSessionID, branchAtMessageUUID, content string) error {
	return o.send(types.Command{
		Type:                types.CommandBranch,
		Content:             content,
		SourceSessionID:     sourceSessionID,
		BranchAtMessageUUID: branchAtMessageUUID,
	})
}

func (o *ObserverConn) Interrupt(sessionID string) error {
	return o.send(types.Command{Type: types.CommandInterrupt, SessionID: sessionID})
}

func (o *ObserverConn) SetOptions(sessionID string, options *types.SessionOptions) error {
	return o.send(types.Command{
		Type:      types.CommandSetOptions,
		SessionID: sessionID,
		Options:   options,
	})
}

func (o *ObserverConn) Close() error {
	select {
	case <-o.done:
	default:
		close(o.done)
	}
	return o.conn.Close()
}

func (o *ObserverConn) send(cmd types.Command) error {
	_ = o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return o.conn.WriteJSON(cmd)
}

func (o *ObserverConn) readLoop() {
	defer close(o.notes)
	for {
		var note types.Notification
		if err := o.conn.ReadJSON(&note); err != nil {
			return
		}
		select {
		case o.notes <- note:
		case <-o.done:
			return
		}
	}
}
