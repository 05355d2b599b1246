package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scribe/internal/broadcast"
	"scribe/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to localhost by default; cross-origin browser use
	// means the operator exposed it deliberately.
	CheckOrigin: func(*http.Request) bool { return true },
}

const socketWriteTimeout = 10 * time.Second

// handleJobSocket streams job progress events over a websocket. The client
// receives a snapshot of the current state first, then live events until the
// job reaches a terminal state or the client goes away.
func (s *apiServer) handleJobSocket(w http.ResponseWriter, r *http.Request, id int64) {
	// Subscribe before the snapshot so a terminal transition between the
	// two is visible either in the snapshot or on the channel.
	events, cancel := s.daemon.hub.Subscribe(id)
	defer cancel()

	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.log().With(logging.Int64(logging.FieldJobID, id))

	snapshot := broadcast.Event{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.ProgressPercent,
		Message:  job.ProgressMessage,
		Error:    job.ErrorMessage,
		At:       job.UpdatedAt,
	}
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}
	if job.IsTerminal() {
		return
	}

	// Drain client frames so close/ping handling works.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case event, open := <-events:
			if !open {
				deadline := time.Now().Add(socketWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), deadline)
				return
			}
			if err := writeEvent(conn, event); err != nil {
				logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event broadcast.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return conn.WriteJSON(event)
}
