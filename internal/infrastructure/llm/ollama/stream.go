package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// chatStream reads the newline-delimited JSON frames of a streaming /api/chat
// response.
type chatStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newChatStream(body io.ReadCloser) *chatStream {
	return &chatStream{body: body, decoder: json.NewDecoder(body)}
}

func (s *chatStream) Recv() (string, error) {
	for !s.done {
		var frame chatResponse
		if err := s.decoder.Decode(&frame); err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("decode chat stream: %w", err)
		}
		if frame.Error != "" {
			s.done = true
			return "", fmt.Errorf("ollama chat stream: %s", frame.Error)
		}
		if frame.Done {
			s.done = true
		}
		if frame.Message.Content != "" {
			return frame.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *chatStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
