package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wbrown/quanttxt/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Progress handles GET /ws/{id}. It sends the current job state, then
// every update published for the job until the job finishes or the client
// goes away.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	// Subscribe before reading the current state so no update is lost in
	// between.
	updates, unsubscribe := h.broker.Subscribe(id)
	defer unsubscribe()

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("job_id", id)
	closed := readUntilClosed(conn)

	if !writeJob(conn, job) || job.Status.Finished() {
		closeNormal(conn)
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Debug("websocket client disconnected")
			return
		case update, ok := <-updates:
			if !ok {
				closeNormal(conn)
				return
			}
			if !writeJob(conn, update) {
				return
			}
			if update.Status.Finished() {
				closeNormal(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readUntilClosed discards client messages and closes the returned channel
// when the connection fails or the client closes it.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

func writeJob(conn *websocket.Conn, job *domain.Job) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(job) == nil
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
