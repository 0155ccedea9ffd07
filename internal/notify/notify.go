// Package notify is the sound/notification side-channel. The engine reports
// at most one notify-worthy foreign message per batch; this package decides
// whether that becomes a sound or an outbound notification, and rate-limits
// the latter so a busy room cannot cause a notification storm.
package notify

import (
	"log"
	"sync"

	"roomchat/client/internal/engine"
)

// Trigger is the payload handed to a notifier: who wrote, and what.
type Trigger struct {
	SenderID string
	Content  string
}

// Notifier delivers one notification. Implementations own their rate
// limiting; the engine only reports events.
type Notifier interface {
	Notify(t Trigger) error
}

// Dispatcher consumes engine batch summaries. While the view is focused a
// foreign message only plays a sound; unfocused, it goes to the notifier.
type Dispatcher struct {
	mu       sync.Mutex
	focused  bool
	notifier Notifier

	// OnSound fires for a foreign new message. The actual audio is the
	// shell's concern.
	OnSound func()
}

// NewDispatcher builds a dispatcher that starts focused.
func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{focused: true, notifier: n}
}

// SetFocused records whether the consuming view currently has focus.
func (d *Dispatcher) SetFocused(focused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = focused
}

// HandleBatch is wired as the engine's batch hook.
func (d *Dispatcher) HandleBatch(b engine.BatchSummary) {
	if !b.ForeignMessage || b.Notify == nil {
		return
	}

	d.mu.Lock()
	focused := d.focused
	onSound := d.OnSound
	notifier := d.notifier
	d.mu.Unlock()

	if onSound != nil {
		onSound()
	}
	if focused || notifier == nil {
		return
	}
	if err := notifier.Notify(Trigger{SenderID: b.Notify.UserID, Content: b.Notify.Content}); err != nil {
		log.Printf("notify: %v", err)
	}
}
