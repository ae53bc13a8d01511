package live

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var _ Source = (*SSESource)(nil)

// SSESource subscribes to a text/event-stream endpoint; every event's data is one message.
type SSESource struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewSSESource 的 client 不可設定整體 Timeout，否則長連線會被切斷
func NewSSESource(url string, client *http.Client, logger *zap.Logger) *SSESource {
	if client == nil {
		client = &http.Client{}
	}
	return &SSESource{
		url:    url,
		client: client,
		logger: logger,
	}
}

func (s *SSESource) Subscribe(ctx context.Context) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	sub := &sseSubscription{
		body:     resp.Body,
		cancel:   cancel,
		messages: make(chan []byte),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
	go sub.read()

	s.logger.Info("event stream connected", zap.String("url", s.url))
	return sub, nil
}

type sseSubscription struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	messages  chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *sseSubscription) Messages() <-chan []byte { return s.messages }

func (s *sseSubscription) Errors() <-chan error { return s.errs }

func (s *sseSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func (s *sseSubscription) read() {
	reader := bufio.NewReader(s.body)
	var data bytes.Buffer

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			s.fail(err)
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			payload := make([]byte, data.Len())
			copy(payload, data.Bytes())
			data.Reset()
			select {
			case s.messages <- payload:
			case <-s.closed:
				return
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}

func (s *sseSubscription) fail(err error) {
	select {
	case <-s.closed:
	case s.errs <- err:
	default:
	}
}
