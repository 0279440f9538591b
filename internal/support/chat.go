// Package support is the customer support chat. Every user message gets a
// canned acknowledgement after a short delay.
package support

import (
	"strings"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/schedule"
)

const (
	Hotline      = "+1234567890"
	Greeting     = "Hello! How can we help you today?"
	CannedReply  = "Thanks for reaching out. Our support team will get back to you shortly. For urgent matters, please call our hotline."
	DefaultDelay = time.Second
)

// Chat is one user's conversation.
type Chat struct {
	delay time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	messages []models.ChatMessage
	replies  *schedule.Group
}

func NewChat(delay time.Duration) *Chat {
	if delay <= 0 {
		delay = DefaultDelay
	}
	c := &Chat{delay: delay, now: time.Now, replies: schedule.NewGroup()}
	c.messages = []models.ChatMessage{{Text: Greeting, Timestamp: c.now()}}
	return c
}

// Send appends the user's message and schedules the reply.
func (c *Chat) Send(text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, apperr.Validation("message text is required")
	}
	m := models.ChatMessage{Text: text, FromUser: true, Timestamp: c.now()}
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()

	c.replies.After(c.delay, func() {
		c.mu.Lock()
		c.messages = append(c.messages, models.ChatMessage{Text: CannedReply, Timestamp: c.now()})
		c.mu.Unlock()
	})
	return m, nil
}

func (c *Chat) Messages() []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close drops replies that have not been sent yet.
func (c *Chat) Close() { c.replies.StopAll() }

// Desk holds a Chat per user.
type Desk struct {
	delay time.Duration

	mu    sync.Mutex
	chats map[string]*Chat
}

func NewDesk(delay time.Duration) *Desk {
	return &Desk{delay: delay, chats: make(map[string]*Chat)}
}

func (d *Desk) For(userID string) *Chat {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chats[userID]
	if !ok {
		c = NewChat(d.delay)
		d.chats[userID] = c
	}
	return c
}

func (d *Desk) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chats {
		c.Close()
	}
}
