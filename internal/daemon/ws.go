package daemon

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/engine"
	"loom/internal/logging"
	"loom/internal/types"
)

const (
	observerQueueSize = 256
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
)

// Token auth already ran by the time the upgrade happens.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsObserver is one websocket connection acting as a session observer.
// Notifications are enqueued without blocking; a connection that cannot keep
// up loses frames rather than stalling the broadcast path.
type wsObserver struct {
	mu        sync.Mutex
	sessionID string

	queue  chan types.Notification
	done   chan struct{}
	logger logging.Logger
}

func newWSObserver(logger logging.Logger) *wsObserver {
	return &wsObserver{
		queue:  make(chan types.Notification, observerQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (o *wsObserver) ObserverSessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *wsObserver) BindSession(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessionID = sessionID
}

func (o *wsObserver) Notify(note types.Notification) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.queue <- note:
	default:
		o.logger.Warn("observer_queue_full",
			logging.F("session_id", o.ObserverSessionID()),
			logging.F("type", note.Type),
		)
	}
}

func (o *wsObserver) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

// Observe upgrades the connection and runs the observer protocol: inbound
// frames are commands, outbound frames are notifications.
func (a *API) Observe(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("observe_upgrade_failed", logging.F("error", err))
		return
	}

	obs := newWSObserver(logger)
	defer func() {
		obs.close()
		// Detach covers sessions that never adopted a backend id; a lookup
		// by the bound id alone would leave those subscriptions behind.
		a.Registry.Detach(obs)
		_ = conn.Close()
	}()

	go a.observerWriter(conn, obs)

	// An observer may attach to a session immediately via query parameter.
	if sessionID := strings.TrimSpace(r.URL.Query().Get("session_id")); sessionID != "" {
		if err := a.Registry.Dispatch(r.Context(), obs, types.Command{
			Type:      types.CommandResume,
			SessionID: sessionID,
		}); err != nil {
			a.notifyCommandError(obs, err)
		}
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("observer_read_closed", logging.F("error", err))
			}
			return
		}
		var cmd types.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			obs.Notify(types.Notification{
				Type:  types.NotifyError,
				Code:  engine.CodeMalformedPayload,
				Error: "malformed command payload",
			})
			continue
		}
		if err := a.Registry.Dispatch(r.Context(), obs, cmd); err != nil {
			a.notifyCommandError(obs, err)
		}
	}
}

func (a *API) observerWriter(conn *websocket.Conn, obs *wsObserver) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case note := <-obs.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-obs.done:
			return
		}
	}
}

func (a *API) notifyCommandError(obs *wsObserver, err error) {
	obs.Notify(types.Notification{
		Type:  types.NotifyError,
		Code:  engine.ErrorCode(err),
		Error: err.Error(),
	})
}
