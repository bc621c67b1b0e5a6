package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hyperlapse/models"
	"hyperlapse/session"
)

// RPC method names
const (
	MethodFetchMetadata         = "fetchMetadata"
	MethodFetchExistingMetadata = "fetchExistingMetadata"
	MethodBuildHyperlapse       = "buildHyperlapse"
	MethodGetMapboxKey          = "getMapboxKey"
	MethodReceiveProgress       = "receiveProgress"
)

var errUnknownMethod = errors.New("unknown method")

// Request is one call from the browser
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID. Result is always sent,
// even when empty, so a client can tell a reply from a notification; it is
// null when Error is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Notification is pushed to the browser without a request
type Notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// ExistingMetadataParams names a finished build
type ExistingMetadataParams struct {
	Key string `json:"key"`
}

// rpcConn serializes writes to one RPC socket
type rpcConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *rpcConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// pushProgress sends ev as a receiveProgress notification
func (c *rpcConn) pushProgress(ev models.ProgressEvent) {
	if err := c.write(Notification{Method: MethodReceiveProgress, Params: ev}); err != nil {
		c.logger.Debug("failed to push progress", zap.Error(err))
	}
}

// handleRPC serves one browser connection until its socket closes. Each call
// runs in its own goroutine. Closing the socket cancels running calls, kills
// their local processes and drops their progress.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	ws, closeSocket, err := s.upgrade(w, r)
	if err != nil {
		s.logger.Warn("rpc upgrade failed", zap.Error(err))
		return
	}

	conn := &rpcConn{ws: ws, logger: s.logger}
	owner := session.NewConnection(s.router, conn.pushProgress, s.logger, s.metrics)
	logger := s.logger.With(zap.String("connection", owner.ID()))
	conn.logger = logger
	logger.Info("rpc client connected", zap.String("user_agent", r.UserAgent()))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		owner.Close()
		cancel()
		closeSocket()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("rpc read failed", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
			logger.Warn("ignoring garbled rpc message", zap.ByteString("message", truncate(data)))
			continue
		}

		go func() {
			resp := s.call(ctx, owner, req)
			if err := conn.write(resp); err != nil {
				logger.Debug("failed to write rpc response",
					zap.String("method", req.Method), zap.Error(err))
			}
		}()
	}
}

// call runs req and wraps the outcome in a Response
func (s *Server) call(ctx context.Context, owner *session.Connection, req Request) Response {
	start := time.Now()
	result, err := s.dispatch(ctx, owner, req)

	fields := []zap.Field{
		zap.String("connection", owner.ID()),
		zap.String("method", req.Method),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
		return Response{ID: req.ID, Error: err.Error()}
	}
	s.logger.Debug("rpc call finished", fields...)
	return Response{ID: req.ID, Result: result}
}

func (s *Server) dispatch(ctx context.Context, owner *session.Connection, req Request) (any, error) {
	switch req.Method {
	case MethodFetchMetadata:
		var params models.FetchMetadataRequest
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.service.FetchMetadata(ctx, owner, params)

	case MethodFetchExistingMetadata:
		var params ExistingMetadataParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.service.FetchExistingMetadata(ctx, params.Key)

	case MethodBuildHyperlapse:
		var params models.BuildRequest
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		return s.service.BuildHyperlapse(ctx, owner, params)

	case MethodGetMapboxKey:
		return s.service.MapboxKey(), nil

	default:
		return nil, fmt.Errorf("%w '%s'", errUnknownMethod, req.Method)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// truncate shortens a message for logging
func truncate(data []byte) []byte {
	const limit = 256
	if len(data) > limit {
		return data[:limit]
	}
	return data
}
