// Package notify is the in-process error-notification sink: classified
// errors become dismissible, auto-expiring notifications that the host
// surface lists and displays. The pipeline itself never renders UI.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ducroq/energydash/internal/apperr"
)

// DefaultTTL is how long a notification stays visible before auto-expiry.
const DefaultTTL = 10 * time.Second

// Severity grades a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one classified, user-facing message.
type Notification struct {
	ID               int         `json:"id"`
	Type             apperr.Kind `json:"type"`
	UserMessage      string      `json:"userMessage"`
	TechnicalMessage string      `json:"technicalMessage"`
	ShouldRetry      bool        `json:"shouldRetry"`
	Severity         Severity    `json:"severity"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Center collects notifications, prunes expired ones on read, and supports
// explicit dismissal. Retryable errors are flagged but never auto-retried
// here; retry is a user action or the scheduled refresh cadence.
type Center struct {
	mu     sync.Mutex
	ttl    time.Duration
	nextID int
	items  []Notification
	log    *slog.Logger

	now func() time.Time // swappable for expiry tests
}

// NewCenter creates a Center with the given visibility TTL.
func NewCenter(ttl time.Duration, log *slog.Logger) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Center{ttl: ttl, log: log.With("component", "notify"), now: time.Now}
}

// Push adds a notification and returns its id.
func (c *Center) Push(n Notification) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	n.ID = c.nextID
	n.CreatedAt = c.now()
	c.items = append(c.items, n)
	c.log.Info("notification",
		"severity", n.Severity, "type", n.Type, "message", n.UserMessage)
	return n.ID
}

// PushError classifies err and pushes it at the given severity.
func (c *Center) PushError(err *apperr.Error, sev Severity) int {
	return c.Push(Notification{
		Type:             err.Kind,
		UserMessage:      err.UserMessage(),
		TechnicalMessage: err.Error(),
		ShouldRetry:      err.Retryable(),
		Severity:         sev,
	})
}

// PushWarning pushes a plain warning message (data-quality findings and
// degraded-mode notices).
func (c *Center) PushWarning(userMsg, technical string) int {
	return c.Push(Notification{
		Type:             apperr.KindUnknown,
		UserMessage:      userMsg,
		TechnicalMessage: technical,
		Severity:         SeverityWarning,
	})
}

// Active returns the notifications that have neither expired nor been
// dismissed, pruning expired ones as a side effect.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	kept := c.items[:0]
	for _, n := range c.items {
		if n.CreatedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	c.items = kept
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Dismiss removes the notification with the given id. Unknown ids are
// ignored; the notification may simply have expired already.
func (c *Center) Dismiss(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}
