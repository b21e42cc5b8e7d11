package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// wsWriteTimeout bounds each outbound frame so a stalled reader cannot
// pin the delegation forever.
const wsWriteTimeout = 30 * time.Second

// handleSubmitWS accepts one query over a WebSocket and streams the
// response back as JSON StreamEvent messages. The protocol mirrors the
// SSE endpoint: chunk events, then a closing status event, then a
// normal close.
func (s *Server) handleSubmitWS(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmit() {
		s.writeError(w, http.StatusTooManyRequests, errRateLimited)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var req SubmitRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}
	if req.Query == "" {
		conn.Close(websocket.StatusInvalidFramePayloadData, "query is required")
		return
	}

	d, err := s.engine.Submit(ctx, req.ContextID, req.Query)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "submission failed")
		return
	}

	// Drain reads so close frames and pings are processed; anything
	// else from the caller after the request is ignored.
	readCtx := conn.CloseRead(ctx)

	for chunk := range d.Chunks() {
		ev := StreamEvent{
			Kind:      "chunk",
			TaskID:    d.TaskID,
			ContextID: req.ContextID,
			Content:   chunk.Content,
			Final:     chunk.Final,
		}
		if err := writeWS(readCtx, conn, ev); err != nil {
			s.logger.Debug("websocket caller disconnected mid-stream",
				zap.String("task_id", d.TaskID),
			)
			return
		}
	}

	if err := writeWS(readCtx, conn, terminalEvent(d)); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func writeWS(ctx context.Context, conn *websocket.Conn, ev StreamEvent) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
