package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hyperlapse/models"
)

// ProgressFrame is one progress update posted by a remote compute job. Index
// is set for chunks of a split build.
type ProgressFrame struct {
	Key     string               `json:"key"`
	Index   *int                 `json:"index,omitempty"`
	Payload models.ProgressEvent `json:"payload"`
}

// handleProgress feeds frames from a compute job into the progress router.
// Frames that cannot be decoded are logged and skipped.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	ws, closeSocket, err := s.upgrade(w, r)
	if err != nil {
		s.logger.Warn("progress upgrade failed", zap.Error(err))
		return
	}
	defer closeSocket()

	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Debug("progress client connected")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("progress read failed", zap.Error(err))
			}
			logger.Debug("progress client disconnected")
			return
		}

		var frame ProgressFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("ignoring garbled progress message", zap.ByteString("message", truncate(data)))
			continue
		}

		key, err := models.ParseJobKey(frame.Key, frame.Index)
		if err != nil {
			logger.Warn("ignoring progress with invalid key", zap.Error(err))
			continue
		}
		if err := frame.Payload.Validate(); err != nil {
			logger.Warn("ignoring invalid progress payload", zap.Stringer("key", key), zap.Error(err))
			continue
		}

		s.router.Route(key, frame.Payload)
	}
}
