// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
)

// Stream actions.
const (
	ActionProgress = "progress"
	ActionDone     = "done"
	ActionError    = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleApplyBatchStream handles GET /v1/edits/files/apply-batch/stream.
//
// # Description
//
// Upgrades to a WebSocket, reads one ApplyBatchRequest and streams a
// "progress" StreamMessage per ProgressEvent while the batch runs, then a
// final "done" message with the per-file results. The server closes the
// connection afterwards. An invalid request gets one "error" message.
//
// # Thread Safety
//
// Each connection is written only by the handler goroutine.
func (h *Handlers) HandleApplyBatchStream(c *gin.Context) {
	logger := requestLogger(c, "HandleApplyBatchStream")
	if !h.requireService(c) {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	var req ApplyBatchRequest
	if err := ws.ReadJSON(&req); err != nil {
		logger.Info("Websocket client went away before sending a request", "error", err)
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		_ = sendMessage(ws, logger, StreamMessage{Action: ActionError, Error: err.Error()})
		return
	}

	progress := make(chan ProgressEvent)
	done := make(chan []BatchResult, 1)
	go func() {
		done <- h.svc.ApplyBatch(c.Request.Context(), req.Files, progress)
	}()

	// Keep draining after a write failure so the batch is not blocked.
	writable := true
	for ev := range progress {
		if !writable {
			continue
		}
		if err := sendMessage(ws, logger, StreamMessage{Action: ActionProgress, Event: &ev}); err != nil {
			writable = false
		}
	}
	results := <-done
	if writable {
		_ = sendMessage(ws, logger, StreamMessage{Action: ActionDone, Results: results})
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func sendMessage(ws *websocket.Conn, logger *slog.Logger, msg StreamMessage) error {
	err := ws.WriteJSON(msg)
	if err != nil {
		logger.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}
