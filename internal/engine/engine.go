// Package engine holds the single source of truth for a room's visible
// message list. It merges live socket events with optimistic local edits,
// resolves temporary ids to server ids, deduplicates redelivered history and
// keeps the list in display order.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"roomchat/client/internal/config"
	"roomchat/client/internal/models"
	"roomchat/client/internal/session"
)

// Transport is the outbound half of the connector. Sends are fire-and-forget;
// optimistic local application never waits on them.
type Transport interface {
	Send(msg models.SendMessage)
}

// ScrollMode tells the presentation layer how to follow a batch.
type ScrollMode int

const (
	// ScrollSmooth animates to the bottom for live events.
	ScrollSmooth ScrollMode = iota
	// ScrollImmediate jumps without animation, used for history replay.
	ScrollImmediate
)

// NotifyEvent describes the one notify-worthy foreign message of a batch.
type NotifyEvent struct {
	UserID  string
	Content string
}

// BatchSummary describes the most recently processed inbound batch. Seq
// increments once per batch so consumers can detect new summaries.
type BatchSummary struct {
	Seq            uint64
	ForeignMessage bool
	Notify         *NotifyEvent
	Scroll         ScrollMode
}

// Engine is the reconciliation engine for one room session.
//
// All mutation is serialized through one mutex: the connector's read loop,
// outbound optimistic operations and scheduled transitions all take it. After
// Close, scheduled callbacks become guarded no-ops.
type Engine struct {
	mu sync.Mutex

	roomID string
	sess   *session.Session
	tx     Transport
	sched  Scheduler
	now    func() time.Time

	messages []models.RoomMessage
	online   []string

	seq  uint64
	last BatchSummary
	hook func(BatchSummary)

	pending  map[int]func()
	nextTask int
	closed   bool
}

// New builds an engine bound to sess, sending outbound operations through tx.
func New(sess *session.Session, tx Transport) *Engine {
	return &Engine{
		roomID:  sess.RoomID(),
		sess:    sess,
		tx:      tx,
		sched:   timerScheduler{},
		now:     time.Now,
		pending: make(map[int]func()),
	}
}

// SetScheduler overrides how delayed transitions are armed. Mainly for tests.
func (e *Engine) SetScheduler(s Scheduler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched = s
}

// SetClock overrides the engine's clock. Mainly for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetBatchHook registers the side-channel consumer. The hook runs outside the
// engine lock, once per processed batch.
func (e *Engine) SetBatchHook(fn func(BatchSummary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = fn
}

// Close cancels every pending scheduled transition and freezes the engine.
// Callbacks that already fired race-free no-op against the closed flag.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, cancel := range e.pending {
		cancel()
	}
	e.pending = map[int]func(){}
}

// afterLocked arms a cancellable transition. fn runs under the engine lock and
// never after Close. Callers must hold e.mu.
func (e *Engine) afterLocked(d time.Duration, fn func()) {
	id := e.nextTask
	e.nextTask++
	cancel := e.sched.After(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		delete(e.pending, id)
		fn()
	})
	e.pending[id] = cancel
}

// HandleEvents ingests one decoded inbound batch. It implements the
// transport's EventSink. Events are applied in arrival order; the timestamp
// sort only affects display order, never processing order, which is what lets
// a confirming echo find the optimistic entry appended before it.
func (e *Engine) HandleEvents(events []models.Event, isHistory bool) {
	current := e.sess.CurrentUserID()
	cutoff := e.sess.JoinCutoff()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	foreign := false
	var notify *NotifyEvent

	for _, ev := range events {
		switch ev := ev.(type) {
		case models.NewMessage:
			if !isHistory && ev.Msg.UserID != current {
				foreign = true
				notify = &NotifyEvent{UserID: ev.Msg.UserID, Content: ev.Msg.Content}
			}
			e.ingestMessageLocked(ev, current, isHistory)

		case models.Presence:
			// An unparseable timestamp never satisfies the cutoff
			// comparison, so it is not filtered.
			if ev.Msg.Timestamp != models.InvalidTimestamp && ev.Msg.Timestamp < cutoff {
				continue
			}
			if ev.Join && ev.Msg.UserID == current {
				continue
			}
			e.appendCollapsibleLocked(ev.Msg, isHistory)

		case models.SystemNotice:
			e.appendCollapsibleLocked(ev.Msg, isHistory)

		case models.ErrorNotice:
			if e.existsLocked(ev.Msg) {
				continue
			}
			msg := e.withIdentityLocked(ev.Msg)
			msg.IsNew = !isHistory
			e.messages = append(e.messages, msg)

		case models.EditAction:
			e.applyEditLocked(ev)

		case models.DeleteAction:
			e.applyDeleteLocked(ev.MessageID)

		case models.DeleteAllAction:
			e.applyDeleteAllLocked(ev, isHistory)

		case models.RosterUpdate:
			e.applyRosterLocked(ev, current, isHistory)

		case models.VoiceState:
			// Routed to the voice roster by the transport; nothing to
			// fold into the message list.
		}
	}

	e.sortLocked()
	e.seq++
	summary := BatchSummary{Seq: e.seq, ForeignMessage: foreign, Notify: notify}
	if isHistory {
		summary.Scroll = ScrollImmediate
	}
	e.last = summary
	hook := e.hook
	e.mu.Unlock()

	if hook != nil {
		hook(summary)
	}
}

// ingestMessageLocked applies a regular chat message: resolve a pending
// optimistic entry in place when the server echoes it back, otherwise
// deduplicate and append.
func (e *Engine) ingestMessageLocked(ev models.NewMessage, current string, isHistory bool) {
	serverID := ev.MessageID
	if serverID == "" {
		serverID = ev.Msg.ID
	}
	// Only the current user's own echo may resolve a pending optimistic
	// entry; a foreign message that happens to repeat pending content must
	// land as its own entry.
	if serverID != "" && !models.IsTempID(serverID) && ev.Msg.UserID == current {
		for i := range e.messages {
			m := &e.messages[i]
			if m.UserID == current && m.Content == ev.Msg.Content &&
				m.Type == models.TypeMessage && models.IsTempID(m.ID) {
				m.ID = serverID
				if ev.Msg.Timestamp > 0 {
					m.Timestamp = ev.Msg.Timestamp
				}
				// Already animated in when applied optimistically.
				m.IsNew = false
				return
			}
		}
	}

	if e.existsLocked(ev.Msg) {
		return
	}

	msg := ev.Msg
	if serverID != "" {
		msg.ID = serverID
	}
	msg = e.withIdentityLocked(msg)
	msg.IsNew = !isHistory
	e.messages = append(e.messages, msg)
}

// appendCollapsibleLocked adds a system/join/leave entry that auto-collapses
// after the collapse delay.
func (e *Engine) appendCollapsibleLocked(msg models.RoomMessage, isHistory bool) {
	if e.existsLocked(msg) {
		return
	}
	msg = e.withIdentityLocked(msg)
	msg.IsNew = !isHistory
	e.messages = append(e.messages, msg)
	e.collapseLaterLocked(msg.ID)
}

// withIdentityLocked guarantees the entry has an id and the session's room.
func (e *Engine) withIdentityLocked(msg models.RoomMessage) models.RoomMessage {
	if msg.ID == "" {
		msg.ID = models.NewFallbackMessageID()
	}
	msg.RoomID = e.roomID
	return msg
}

// existsLocked implements the dedup rule: an id match, or the
// (timestamp, user, content) triple for entries whose ids differ, which is
// what absorbs history redelivery of a message first seen under a temp id.
func (e *Engine) existsLocked(msg models.RoomMessage) bool {
	for i := range e.messages {
		m := &e.messages[i]
		if msg.ID != "" && m.ID == msg.ID {
			return true
		}
		if m.Timestamp == msg.Timestamp && m.UserID == msg.UserID && m.Content == msg.Content {
			return true
		}
	}
	return false
}

func (e *Engine) indexOfLocked(id string) int {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// applyEditLocked drives the Stable -> Editing -> Stable transition. The entry
// is flagged immediately, the data update (content, timestamp, edited flag)
// lands after the short staging delay, and the flag settles later. An unknown
// target is a no-op: an edit never retroactively creates a message.
func (e *Engine) applyEditLocked(ev models.EditAction) {
	idx := e.indexOfLocked(ev.MessageID)
	if idx < 0 {
		return
	}
	e.messages[idx].Editing = true

	id := ev.MessageID
	e.afterLocked(config.EditApplyDelay, func() {
		i := e.indexOfLocked(id)
		if i < 0 {
			return
		}
		m := &e.messages[i]
		m.Content = ev.NewContent
		if ev.NewTimestamp > 0 {
			m.Timestamp = ev.NewTimestamp
		}
		if ev.NewUserID != "" {
			m.UserID = ev.NewUserID
		}
		m.Edited = true
		e.sortLocked()

		e.afterLocked(config.EditSettleDelay, func() {
			if j := e.indexOfLocked(id); j >= 0 {
				e.messages[j].Editing = false
			}
		})
	})
}

// applyDeleteLocked marks the entry deleting and removes it after the grace
// window. Unknown targets are dropped silently.
func (e *Engine) applyDeleteLocked(messageID string) {
	idx := e.indexOfLocked(messageID)
	if idx < 0 {
		return
	}
	e.messages[idx].Deleting = true
	e.afterLocked(config.DeleteGrace, func() {
		if i := e.indexOfLocked(messageID); i >= 0 {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
		}
	})
}

// applyDeleteAllLocked two-phase removes every message from one user and
// materializes a summary entry reporting the count.
func (e *Engine) applyDeleteAllLocked(ev models.DeleteAllAction, isHistory bool) {
	marked := 0
	for i := range e.messages {
		if e.messages[i].UserID == ev.UserID {
			e.messages[i].Deleting = true
			marked++
		}
	}
	e.afterLocked(config.DeleteGrace, func() {
		kept := e.messages[:0]
		for _, m := range e.messages {
			if m.UserID != ev.UserID {
				kept = append(kept, m)
			}
		}
		e.messages = kept
	})

	count := ev.Count
	if count == 0 {
		count = marked
	}
	summary := models.RoomMessage{
		ID:        models.NewSystemMessageID(),
		Type:      models.TypeSystem,
		RoomID:    e.roomID,
		UserID:    models.SystemUserID,
		Content:   fmt.Sprintf("%d messages from %s were removed", count, ev.UserID),
		Timestamp: e.now().UnixMilli(),
		IsNew:     !isHistory,
	}
	e.messages = append(e.messages, summary)
	e.collapseLaterLocked(summary.ID)
}

// applyRosterLocked replaces the exported online set and materializes a fresh
// summary entry. Roster entries are uniquely keyed on purpose and bypass the
// dedup check: two identical consecutive rosters each produce their own entry.
func (e *Engine) applyRosterLocked(ev models.RosterUpdate, current string, isHistory bool) {
	others := make([]string, 0, len(ev.Users))
	for _, u := range ev.Users {
		if u != current {
			others = append(others, u)
		}
	}
	e.online = others

	var content string
	switch len(others) {
	case 0:
		content = "No one else is online in this room, but you can leave a message and they will see it"
	case 1:
		content = fmt.Sprintf("%s is online in this room", others[0])
	default:
		content = fmt.Sprintf("%s (%d people) are online in this room", strings.Join(others, ", "), len(others))
	}

	msg := ev.Msg
	msg.ID = models.NewRosterMessageID()
	msg.RoomID = e.roomID
	msg.Content = content
	msg.IsNew = !isHistory
	e.messages = append(e.messages, msg)
	e.collapseLaterLocked(msg.ID)
}

func (e *Engine) collapseLaterLocked(id string) {
	e.afterLocked(config.CollapseDelay, func() {
		if i := e.indexOfLocked(id); i >= 0 {
			e.messages[i].Collapsed = true
		}
	})
}

// sortLocked stably orders the list by timestamp ascending. Entries whose
// timestamp never parsed sort last; any numeric timestamp, zero included, is a
// valid key, and ties keep insertion order. The comparator cannot fail, so a
// bad entry never drops the rest of a batch's updates.
func (e *Engine) sortLocked() {
	sort.SliceStable(e.messages, func(i, j int) bool {
		a, b := e.messages[i].Timestamp, e.messages[j].Timestamp
		if a == models.InvalidTimestamp {
			return false
		}
		if b == models.InvalidTimestamp {
			return true
		}
		return a < b
	})
}

// SendText optimistically appends a locally authored message and instructs
// the transport to deliver it. The temp id travels with the send so the
// server's echo can resolve the entry in place. The transport may be down;
// the local append happens regardless.
func (e *Engine) SendText(content string) error {
	return e.sendOptimistic(content, nil)
}

// SendFile is SendText with an attached upload result.
func (e *Engine) SendFile(content string, meta *models.FileMeta) error {
	return e.sendOptimistic(content, meta)
}

func (e *Engine) sendOptimistic(content string, meta *models.FileMeta) error {
	if !e.sess.Joined() {
		return session.ErrNotJoined
	}
	current := e.sess.CurrentUserID()
	tempID := models.NewTempID()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.messages = append(e.messages, models.RoomMessage{
		ID:        tempID,
		Type:      models.TypeMessage,
		RoomID:    e.roomID,
		UserID:    current,
		Content:   content,
		Timestamp: e.now().UnixMilli(),
		FileMeta:  meta,
		IsNew:     true,
	})
	e.sortLocked()
	e.mu.Unlock()

	e.tx.Send(models.SendMessage{
		Type:     models.TypeMessage,
		Content:  content,
		FileMeta: meta,
		TempID:   tempID,
	})
	return nil
}

// EditMessage asks the server to edit. The list is not touched locally; the
// mutation lands when the system-envelope echo arrives, so a rejected edit
// never diverges the view.
func (e *Engine) EditMessage(messageID, newContent, originalContent string) error {
	if !e.sess.Joined() {
		return session.ErrNotJoined
	}
	e.tx.Send(models.SendMessage{
		Type:            models.TypeEdit,
		MessageID:       messageID,
		Content:         newContent,
		OriginalContent: originalContent,
	})
	return nil
}

// DeleteMessage asks the server to delete one message; echo-confirmed like
// EditMessage.
func (e *Engine) DeleteMessage(messageID string) error {
	if !e.sess.Joined() {
		return session.ErrNotJoined
	}
	e.tx.Send(models.SendMessage{Type: models.TypeDelete, MessageID: messageID})
	return nil
}

// DeleteAllMine asks the server to delete every message of the current user.
func (e *Engine) DeleteAllMine() error {
	if !e.sess.Joined() {
		return session.ErrNotJoined
	}
	e.tx.Send(models.SendMessage{Type: models.TypeDeleteAll})
	return nil
}

// AddSystemMessage appends a local synthetic system entry, used for rename
// announcements and other app-level notices.
func (e *Engine) AddSystemMessage(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	msg := models.RoomMessage{
		ID:        models.NewSystemMessageID(),
		Type:      models.TypeSystem,
		RoomID:    e.roomID,
		UserID:    models.SystemUserID,
		Content:   content,
		Timestamp: e.now().UnixMilli(),
		IsNew:     true,
	}
	e.messages = append(e.messages, msg)
	e.collapseLaterLocked(msg.ID)
	e.sortLocked()
}

// ToggleCollapse flips the collapsed state of a system entry.
func (e *Engine) ToggleCollapse(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexOfLocked(messageID); i >= 0 {
		e.messages[i].Collapsed = !e.messages[i].Collapsed
	}
}

// ClearNewFlags drops the entry-animation marker once the presentation layer
// has animated the batch in.
func (e *Engine) ClearNewFlags() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.messages {
		e.messages[i].IsNew = false
	}
}

// Messages returns a copy of the visible list in display order.
func (e *Engine) Messages() []models.RoomMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RoomMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// OnlineUsers returns a copy of the other online users.
func (e *Engine) OnlineUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.online))
	copy(out, e.online)
	return out
}

// LastBatch returns the descriptor of the most recently processed batch.
func (e *Engine) LastBatch() BatchSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
