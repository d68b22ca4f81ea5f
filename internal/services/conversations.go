package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const errLoggerKey = "err"

// ErrNoConversationID is returned when the creation endpoint answers without an identifier.
var ErrNoConversationID = errors.New("response has no conversation id")

// Conversations allocates conversation identifiers through the chat server's creation endpoint.
type Conversations struct {
	endpoint string
	client   *http.Client

	logger *slog.Logger
}

type createConversationResponse struct {
	ConversationID json.RawMessage `json:"conversation_id"`
}

// NewConversations creates a client for the creation endpoint of the server at baseURL.
func NewConversations(baseURL string, httpClient *http.Client, logger *slog.Logger) (Conversations, error) {
	endpoint, err := url.JoinPath(strings.TrimSuffix(baseURL, "/"), "chat", "create")
	if err != nil {
		return Conversations{}, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Conversations{
		endpoint: endpoint,
		client:   httpClient,
		logger:   logger.With(slog.String("module", "conversations")),
	}, nil
}

// Create requests a new conversation and returns its identifier. Numeric and string identifiers are
// both accepted and returned as opaque strings.
func (c Conversations) Create(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var res createConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	id, err := conversationIDString(res.ConversationID)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Conversation created", slog.String("conversationID", id))
	return id, nil
}

func conversationIDString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNoConversationID
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("error decoding conversation id: %w", err)
		}
		if s = strings.TrimSpace(s); s == "" {
			return "", ErrNoConversationID
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("error decoding conversation id: %w", err)
	}
	return n.String(), nil
}

// LocalConversations allocates random identifiers without a server round trip. It is used with
// transports that talk to a model directly, where the identifier only labels logs.
type LocalConversations struct{}

// Create returns a new random identifier.
func (LocalConversations) Create(context.Context) (string, error) {
	return uuid.NewString(), nil
}
