package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// DoneEventType is the event name the server uses to signal that a reply is complete.
const DoneEventType = "done"

// SSE opens push channels against a chat server that streams replies as server-sent events. Unnamed
// events carry reply fragments, a "done" event ends the reply, and any transport failure ends it with an
// error. Reconnection is disabled: a dropped stream is a failed exchange.
type SSE struct {
	baseURL      *url.URL
	client       *sse.Client
	maxEventSize int

	logger *slog.Logger
}

// NewSSE creates an SSE transport for the server at baseURL. A nil httpClient selects
// http.DefaultClient. maxEventSize raises the per-event size limit when it is positive.
func NewSSE(baseURL string, httpClient *http.Client, maxEventSize int, logger *slog.Logger) (SSE, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return SSE{}, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return SSE{}, fmt.Errorf("invalid server url %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return SSE{
		baseURL: u,
		client: &sse.Client{
			HTTPClient:        httpClient,
			ResponseValidator: sse.DefaultValidator,
			Backoff: sse.Backoff{
				MaxRetries: -1,
			},
		},
		maxEventSize: maxEventSize,
		logger:       logger.With(slog.String("module", "sse")),
	}, nil
}

// EncodeHistory serializes the conversation as the JSON array of {role, content} records the server
// expects in the conv query parameter.
func EncodeHistory(history []models.Message) (string, error) {
	if history == nil {
		history = []models.Message{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}
	return string(b), nil
}

// StreamURL returns the address of the push channel for conversationID and history. The history is JSON
// encoded and percent-encoded into the query string.
func (s SSE) StreamURL(conversationID string, history []models.Message) (string, error) {
	conv, err := EncodeHistory(history)
	if err != nil {
		return "", err
	}

	u := *s.baseURL
	u.Path += "/chat/stream"
	u.RawQuery = url.Values{
		"conversation_id": {conversationID},
		"conv":            {conv},
	}.Encode()
	return u.String(), nil
}

// Open starts streaming the reply for history. The returned channel delivers events until the server
// sends done, the stream fails, or the channel is closed.
func (s SSE) Open(ctx context.Context, conversationID string, history []models.Message) (handlers.Channel, error) {
	streamURL, err := s.StreamURL(conversationID, history)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("conversationID", conversationID))

	return newStreamChannel(ctx, func(ctx context.Context, emit func(models.Event) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
		if err != nil {
			emit(models.Event{Kind: models.EventError, Err: fmt.Errorf("failed to create request: %w", err)})
			return
		}

		conn := s.client.NewConnection(req)
		if s.maxEventSize > 0 {
			conn.Buffer(nil, s.maxEventSize)
		}

		conn.SubscribeMessages(func(ev sse.Event) {
			// Frames with only id or retry fields are dispatched without data.
			if ev.Data == "" {
				return
			}
			emit(models.Event{Kind: models.EventPartial, Data: ev.Data})
		})
		conn.SubscribeEvent(DoneEventType, func(sse.Event) {
			emit(models.Event{Kind: models.EventDone})
		})

		logger.Debug("Connecting", slog.Int("urlLength", len(streamURL)))

		err = conn.Connect()
		if ctx.Err() != nil {
			// Closed by the consumer or cancelled by the caller: nothing left to report.
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}
		logger.Debug("Connection ended", slog.String(errLoggerKey, err.Error()))
		emit(models.Event{Kind: models.EventError, Err: fmt.Errorf("stream failed: %w", err)})
	}), nil
}
