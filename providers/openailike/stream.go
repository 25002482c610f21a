package openailike

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hearthmind/hearth/pkg/types"
)

// streamReader parses SSE events from an OpenAI-compatible stream.
type streamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
	mu      sync.Mutex
}

func newStreamReader(body io.ReadCloser) *streamReader {
	scanner := bufio.NewScanner(body)
	// Increase buffer size for large chunks
	scanner.Buffer(make([]byte, 4096), 4096*4)
	return &streamReader{
		body:    body,
		scanner: scanner,
	}
}

var dataPrefix = []byte("data:")

// Next returns the next chunk from the stream.
// Returns io.EOF when the stream is complete.
func (s *streamReader) Next() (*types.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			line = bytes.TrimSpace(line[len(dataPrefix):])
		}
		if bytes.Equal(line, []byte("[DONE]")) {
			s.close()
			return nil, io.EOF
		}

		var chunk types.StreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Comments and keep-alive lines are not chunks
			continue
		}
		if len(chunk.Choices) == 0 && chunk.Usage == nil {
			continue
		}
		return &chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.close()
		return nil, err
	}
	s.close()
	return nil, io.EOF
}

// Close releases resources associated with the stream.
// Safe to call multiple times.
func (s *streamReader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *streamReader) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
