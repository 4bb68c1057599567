package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
)

// reconnectCeiling caps the backoff between stream reconnect attempts.
const reconnectCeiling = 30 * time.Second

// StreamChannel consumes the record store's server-sent-event stream of
// per-user notification changes. It reconnects with exponential backoff
// for as long as the subscription context lives.
type StreamChannel struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

var _ Channel = (*StreamChannel)(nil)

// NewStreamChannel creates a StreamChannel against the record store's
// base URL. The HTTP client carries no timeout: the stream is expected
// to stay open indefinitely and is bounded by the subscription context.
func NewStreamChannel(baseURL, apiKey string, log *logging.Logger) *StreamChannel {
	return &StreamChannel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        log,
	}
}

// Open starts the stream for a user. Events are delivered on the
// returned channel until ctx is canceled, at which point the channel is
// closed.
func (s *StreamChannel) Open(ctx context.Context, userID string) (<-chan model.ChangeEvent, error) {
	events := make(chan model.ChangeEvent, 16)
	go s.run(ctx, userID, events)
	return events, nil
}

// run connects, reads, and reconnects until ctx is canceled.
func (s *StreamChannel) run(ctx context.Context, userID string, events chan<- model.ChangeEvent) {
	defer close(events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.readStream(ctx, userID, events); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnf("change stream for %s dropped: %v", userID, err)
		}

		// Exponential backoff: 1s, 2s, 4s, ... capped.
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > reconnectCeiling {
			backoff = reconnectCeiling
		} else {
			attempt++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// readStream holds one stream connection open, decoding data lines into
// change events.
func (s *StreamChannel) readStream(ctx context.Context, userID string, events chan<- model.ChangeEvent) error {
	q := url.Values{}
	q.Set("user_id", userID)

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, s.baseURL+"/realtime/notifications?"+q.Encode(), nil,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.log.Debugf("skipping malformed change event: %v", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}
