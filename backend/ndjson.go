package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"hyperlapse/models"
)

// StreamReader reads the compute backend's newline-delimited JSON output.
//
// Lines tagged PROGRESS or PROGRESS_STAGE are forwarded as progress events.
// Any other JSON object is the terminal result. Lines that are not JSON
// objects are logged and skipped.
type StreamReader struct {
	maxLineSize int
	logger      *zap.Logger
}

// DefaultMaxLineSize bounds a single output line. Metadata lines carry every
// gps point of the route and can be large.
const DefaultMaxLineSize = 64 * 1024 * 1024

// NewStreamReader creates a reader that logs skipped lines to logger
func NewStreamReader(logger *zap.Logger) *StreamReader {
	return &StreamReader{maxLineSize: DefaultMaxLineSize, logger: logger}
}

// SetMaxLineSize sets the longest line Read accepts
func (sr *StreamReader) SetMaxLineSize(n int) *StreamReader {
	sr.maxLineSize = n
	return sr
}

// StreamResult is what Read collected from one output stream.
type StreamResult struct {
	Terminal      json.RawMessage // nil when the backend printed no result
	ProgressLines int
	SkippedLines  int
}

type lineHeader struct {
	Type *string `json:"type"`
}

// Read consumes r until EOF. The terminal result is expected once, on the
// last line; if several non-progress objects arrive, the last one wins.
//
// A line longer than the size limit stops the read with an error, leaving
// the rest of r unread.
func (sr *StreamReader) Read(r io.Reader, onProgress models.ProgressSink) (*StreamResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, sr.maxLineSize)), sr.maxLineSize)

	result := &StreamResult{}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// Only objects can be progress or a result
		if line[0] != '{' {
			result.SkippedLines++
			sr.logger.Warn("backend output is not a JSON object", zap.ByteString("line", truncate(line)))
			continue
		}

		var header lineHeader
		if err := json.Unmarshal(line, &header); err != nil {
			result.SkippedLines++
			sr.logger.Warn("could not parse backend output", zap.ByteString("line", truncate(line)), zap.Error(err))
			continue
		}

		if header.Type != nil && models.IsProgressType(*header.Type) {
			var ev models.ProgressEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				result.SkippedLines++
				sr.logger.Warn("could not parse progress line", zap.ByteString("line", truncate(line)), zap.Error(err))
				continue
			}
			result.ProgressLines++
			if onProgress != nil {
				onProgress(ev)
			}
			continue
		}

		if result.Terminal != nil {
			sr.logger.Warn("backend printed more than one result, keeping the last")
		}
		result.Terminal = append(json.RawMessage(nil), line...)
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("error reading backend output: %w", err)
	}

	return result, nil
}

// remoteResponse is the terminal object shape used by the remote backend. The
// local backend prints bare metadata instead.
type remoteResponse struct {
	MetadataResult *models.RouteMetadata `json:"metadataResult"`
	VideoResult    *struct {
		URL string `json:"url"`
	} `json:"videoResult"`
	Error *string `json:"error"`
}

// decodeMetadata accepts either a bare metadata object or a response object
// wrapping one.
func decodeMetadata(raw json.RawMessage) (*models.RouteMetadata, error) {
	var wrapped remoteResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.MetadataResult != nil {
		return wrapped.MetadataResult, nil
	}

	var meta models.RouteMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

func truncate(line []byte) []byte {
	const limit = 256
	if len(line) <= limit {
		return line
	}
	return line[:limit]
}
