// internal/api/client.go
// Typed wrapper around the platform's REST API
// Every payload is decoded into an explicit DTO and validated at the
// boundary instead of being trusted at the use site.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/launchpod/chatkit/internal/chat"
	"github.com/launchpod/chatkit/internal/session"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoDirectConversation = errors.New("no direct conversation exists")

	errNotFound = errors.New("not found")
)

// Client talks to the REST collaborators described by the platform API.
type Client struct {
	baseURL string
	http    *http.Client
	token   *session.Token
	log     *logrus.Entry
}

// NewClient creates a REST client. httpClient may be nil for a default
// with a 15s timeout.
func NewClient(baseURL string, token *session.Token, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		token:   token,
		log:     logrus.WithField("component", "api"),
	}
}

// Response is the standard API response envelope
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GetConversation fetches a conversation with its participants/members.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	var conv chat.Conversation
	err := c.get(ctx, "/api/v1/conversations/"+url.PathEscape(conversationID), &conv)
	if errors.Is(err, errNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get conversation")
	}

	if err := ValidateStruct(&conv); err != nil {
		return nil, errors.Wrap(err, "invalid conversation payload")
	}
	return &conv, nil
}

// GetConversationMessages fetches the persisted message list, ordered by
// creation time ascending.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	var msgs []*chat.Message
	err := c.get(ctx, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", &msgs)
	if errors.Is(err, errNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get messages")
	}
	return msgs, nil
}

// GetUserByUsername resolves a username to a profile. Used for mention
// and reply resolution.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*chat.UserInfo, error) {
	var user chat.UserInfo
	err := c.get(ctx, "/api/v1/users/by-username/"+url.PathEscape(username), &user)
	if errors.Is(err, errNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}

	if err := ValidateStruct(&user); err != nil {
		return nil, errors.Wrap(err, "invalid user payload")
	}
	return &user, nil
}

// FindDirectConversation looks up an existing direct conversation between
// the given participants. ErrNoDirectConversation means the caller should
// fall back to a message request instead of opening a chat.
func (c *Client) FindDirectConversation(ctx context.Context, participantIDs []string) (*chat.Conversation, error) {
	query := url.Values{"ids": {strings.Join(participantIDs, ",")}}

	var conv chat.Conversation
	err := c.get(ctx, "/api/v1/conversations/by-participants?"+query.Encode(), &conv)
	if errors.Is(err, errNotFound) {
		return nil, ErrNoDirectConversation
	}
	if err != nil {
		return nil, errors.Wrap(err, "find direct conversation")
	}

	if err := ValidateStruct(&conv); err != nil {
		return nil, errors.Wrap(err, "invalid conversation payload")
	}
	return &conv, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		c.token.SetHeader(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(err, "malformed response")
	}
	if !envelope.Success {
		return fmt.Errorf("api error: %s", envelope.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrap(err, "malformed response data")
	}
	return nil
}
