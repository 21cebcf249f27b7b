package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"setupguide/internal/gateway/repository/job"
)

const (
	watchWriteWait = 10 * time.Second
	watchPongWait  = 60 * time.Second
	watchPingEvery = (watchPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchMessage struct {
	Type      string          `json:"type"`
	JobID     string          `json:"jobId,omitempty"`
	Status    job.Status      `json:"status,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Message   string          `json:"message,omitempty"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

func snapshotMessage(j job.Job) watchMessage {
	updated := j.UpdatedAt
	return watchMessage{
		Type:      "status",
		JobID:     j.ID,
		Status:    j.Status,
		Result:    j.Result,
		ErrorKind: j.ErrorKind,
		Message:   j.Error,
		UpdatedAt: &updated,
	}
}

// HandleWatch streams status snapshots of one job over a websocket and
// closes the socket once the job is terminal.
func (h *Handler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if _, err := h.svc.Job(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchPongWait)); err != nil {
		log.Printf("watch: set read deadline: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	// The reader only services control frames and notices a closed peer.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}
	if err := write(watchMessage{Type: "subscribed", JobID: id}); err != nil {
		return
	}

	updates := h.hub.Subscribe(ctx, id, func(ctx context.Context) (job.Job, error) {
		return h.svc.Job(ctx, id)
	})
	ticker := time.NewTicker(watchPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-updates:
			if !ok {
				closeWatch(conn, "job finished")
				return
			}
			if err := write(snapshotMessage(j)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeWatch(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("watch: close: %v", err)
	}
}
