// internal/chat/controller.go

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/launchpod/chatkit/internal/metrics"
	"github.com/launchpod/chatkit/internal/transport"
)

var (
	ErrEmptyMessage      = errors.New("message needs content or media")
	ErrNoConversation    = errors.New("no open conversation")
	ErrSendFailed        = errors.New("send failed")
	ErrHistoryLoadFailed = errors.New("history load failed")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotRetryable      = errors.New("message is not in a failed state")
)

// Transport is the slice of the connection supervisor the controller
// needs. Satisfied by *transport.Supervisor.
type Transport interface {
	EnsureConnected(ctx context.Context) error
	Join(channelID string) error
	Leave(channelID string)
	Emit(ev transport.Event) error
	Subscribe(fn func(transport.Event)) func()
}

// HistoryService loads the persisted message list for a conversation.
// Satisfied by *api.Client.
type HistoryService interface {
	GetConversationMessages(ctx context.Context, conversationID string) ([]*Message, error)
}

// Options configures a Controller.
type Options struct {
	ConversationID string
	Self           UserInfo
	Transport      Transport
	History        HistoryService

	// ConfirmWait bounds how long a provisional message stays pending
	// before it is marked failed. Zero means the 3s default.
	ConfirmWait time.Duration

	Logger *logrus.Entry

	// OnAppend fires when a message is appended to the visible list, so a
	// view can scroll to the bottom. OnUpdate fires when an existing entry
	// changes in place (reconciliation or a status transition). Both are
	// called without the controller's lock held and must not call back in.
	OnAppend func(*Message)
	OnUpdate func(*Message)
}

// Controller owns the authoritative in-memory ordered message list for
// one open conversation and mediates between optimistic local writes and
// server-confirmed events.
type Controller struct {
	conversationID string
	self           UserInfo
	transport      Transport
	history        HistoryService
	confirmWait    time.Duration
	log            *logrus.Entry

	onAppend func(*Message)
	onUpdate func(*Message)
	now      func() time.Time

	mu          sync.Mutex
	messages    []*Message
	unsubscribe func()
	closed      bool
}

// NewController builds a controller and subscribes it to transport
// events. Call Close when the conversation view goes away.
func NewController(opts Options) (*Controller, error) {
	if opts.ConversationID == "" {
		return nil, ErrNoConversation
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.ConfirmWait <= 0 {
		opts.ConfirmWait = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Controller{
		conversationID: opts.ConversationID,
		self:           opts.Self,
		transport:      opts.Transport,
		history:        opts.History,
		confirmWait:    opts.ConfirmWait,
		log:            opts.Logger.WithField("conversation", opts.ConversationID),
		onAppend:       opts.OnAppend,
		onUpdate:       opts.OnUpdate,
		now:            time.Now,
	}

	c.unsubscribe = opts.Transport.Subscribe(c.handleEvent)
	return c, nil
}

// Open connects, joins the conversation's channel, and loads history.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.transport.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := c.transport.Join(c.conversationID); err != nil {
		return err
	}
	return c.LoadHistory(ctx)
}

// Send inserts a provisional message immediately and emits it over the
// transport. The returned message is the provisional entry; the caller
// gets it back before any network confirmation. If the connection or the
// join cannot be established the provisional entry is removed again and
// ErrSendFailed is returned, leaving the composed content with the
// caller for a retry.
func (c *Controller) Send(ctx context.Context, content string, replyTo *Message, media *Media) (*Message, error) {
	if strings.TrimSpace(content) == "" && media == nil {
		return nil, ErrEmptyMessage
	}

	now := c.now()
	msg := &Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: c.conversationID,
		Sender:         c.self,
		Content:        content,
		Media:          media,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusPending,
	}
	if replyTo != nil {
		msg.ReplyTo = &ReplyRef{
			ID:      replyTo.ID,
			Content: replyTo.Content,
			Sender:  replyTo.Sender,
		}
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	metrics.MessagesSent.Inc()
	if c.onAppend != nil {
		c.onAppend(msg)
	}

	if err := c.emit(ctx, msg); err != nil {
		c.remove(msg.ID)
		metrics.SendsFailed.Inc()
		c.log.WithError(err).Warn("send rolled back")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.watch(msg.ID)
	return msg, nil
}

// Retry re-emits a message that previously failed its confirmation watch.
func (c *Controller) Retry(ctx context.Context, messageID string) error {
	c.mu.Lock()
	msg := c.findLocked(messageID)
	if msg == nil {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Status != StatusFailed {
		c.mu.Unlock()
		return ErrNotRetryable
	}
	msg.Status = StatusPending
	msg.UpdatedAt = c.now()
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(msg)
	}

	if err := c.emit(ctx, msg); err != nil {
		c.markFailed(messageID)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.watch(messageID)
	return nil
}

// OnIncoming merges a server-delivered message into the visible list.
// Events for other conversations are discarded; duplicate deliveries of
// the same canonical id are idempotent; a matching provisional entry is
// replaced in place rather than appended.
func (c *Controller) OnIncoming(msg *Message) {
	if msg == nil || msg.ConversationID != c.conversationID {
		return
	}
	msg.Status = StatusConfirmed

	c.mu.Lock()
	for _, m := range c.messages {
		if m.ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}

	for i, m := range c.messages {
		if m.Provisional() && m.Sender.ID == msg.Sender.ID && m.Content == msg.Content {
			c.messages[i] = msg
			c.mu.Unlock()

			metrics.MessagesConfirmed.Inc()
			if c.onUpdate != nil {
				c.onUpdate(msg)
			}
			return
		}
	}

	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	if c.onAppend != nil {
		c.onAppend(msg)
	}
}

// LoadHistory replaces the in-memory list wholesale with the persisted
// one. Called once when the conversation is opened.
func (c *Controller) LoadHistory(ctx context.Context) error {
	if c.history == nil {
		return nil
	}

	msgs, err := c.history.GetConversationMessages(ctx, c.conversationID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryLoadFailed, err)
	}

	for _, m := range msgs {
		m.Status = StatusConfirmed
	}

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
	return nil
}

// SetTyping emits a typing indicator change, best effort.
func (c *Controller) SetTyping(typing bool) {
	eventType := transport.EventTyping
	if !typing {
		eventType = transport.EventStopTyping
	}

	ev, err := transport.NewEvent(eventType, transport.TypingPayload{ChannelID: c.conversationID})
	if err != nil {
		return
	}
	_ = c.transport.Emit(ev)
}

// Messages returns a snapshot of the visible list in display order.
func (c *Controller) Messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close leaves the channel and stops event handling. In-flight
// confirmation watches run out silently; their provisional messages were
// already appended and are not retracted.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.transport.Leave(c.conversationID)
}

func (c *Controller) handleEvent(ev transport.Event) {
	switch transport.EventType(ev.Type) {
	case transport.EventNewMessage:
		var msg Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			c.log.WithError(err).Warn("dropping malformed message event")
			return
		}
		c.OnIncoming(&msg)

	case transport.EventConnected, transport.EventDisconnected,
		transport.EventPresence, transport.EventTyping, transport.EventStopTyping:
		// Join replay lives in the supervisor; presence and typing are
		// display-only and carry no list state.
	}
}

func (c *Controller) emit(ctx context.Context, msg *Message) error {
	if err := c.transport.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := c.transport.Join(c.conversationID); err != nil {
		return err
	}

	payload := transport.SendMessagePayload{
		ChannelID: c.conversationID,
		Content:   msg.Content,
	}
	if msg.ReplyTo != nil {
		payload.ReplyToID = msg.ReplyTo.ID
	}
	if msg.Media != nil {
		payload.MediaURL = msg.Media.URL
		payload.MediaKind = msg.Media.Kind
	}

	ev, err := transport.NewEvent(transport.EventSendMessage, payload)
	if err != nil {
		return err
	}
	return c.transport.Emit(ev)
}

// watch bounds the pending state: if no echo reconciled the message by
// the time the watch expires, it transitions to failed and the caller can
// offer a retry.
func (c *Controller) watch(messageID string) {
	time.AfterFunc(c.confirmWait, func() {
		if c.markFailed(messageID) {
			metrics.SendsFailed.Inc()
			c.log.WithField("message", messageID).Warn("no echo within confirm window")
		}
	})
}

func (c *Controller) markFailed(messageID string) bool {
	c.mu.Lock()
	msg := c.findLocked(messageID)
	if msg == nil || msg.Status != StatusPending {
		c.mu.Unlock()
		return false
	}
	msg.Status = StatusFailed
	msg.UpdatedAt = c.now()
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(msg)
	}
	return true
}

func (c *Controller) remove(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.messages {
		if m.ID == messageID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *Controller) findLocked(messageID string) *Message {
	for _, m := range c.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}
