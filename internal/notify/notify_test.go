package notify

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/client/internal/engine"
)

type recordingNotifier struct {
	mu       sync.Mutex
	triggers []Trigger
	err      error
}

func (r *recordingNotifier) Notify(t Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, t)
	return r.err
}

func (r *recordingNotifier) got() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trigger, len(r.triggers))
	copy(out, r.triggers)
	return out
}

func foreignBatch(userID, content string) engine.BatchSummary {
	return engine.BatchSummary{
		ForeignMessage: true,
		Notify:         &engine.NotifyEvent{UserID: userID, Content: content},
	}
}

func TestDispatcherFocusedOnlyPlaysSound(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n)

	sounds := 0
	d.OnSound = func() { sounds++ }

	d.HandleBatch(foreignBatch("bob", "hi"))

	assert.Equal(t, 1, sounds)
	assert.Empty(t, n.got(), "focused view never notifies")
}

func TestDispatcherUnfocusedNotifies(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n)
	d.SetFocused(false)

	sounds := 0
	d.OnSound = func() { sounds++ }

	d.HandleBatch(foreignBatch("bob", "hi"))

	assert.Equal(t, 1, sounds, "sound plays regardless of focus")
	require.Len(t, n.got(), 1)
	assert.Equal(t, Trigger{SenderID: "bob", Content: "hi"}, n.got()[0])
}

func TestDispatcherSkipsOwnAndHistoryBatches(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n)
	d.SetFocused(false)

	sounds := 0
	d.OnSound = func() { sounds++ }

	d.HandleBatch(engine.BatchSummary{ForeignMessage: false})
	d.HandleBatch(engine.BatchSummary{ForeignMessage: false, Scroll: engine.ScrollImmediate})

	assert.Zero(t, sounds)
	assert.Empty(t, n.got())
}

func TestDispatcherSurvivesNotifierError(t *testing.T) {
	n := &recordingNotifier{err: errors.New("bot offline")}
	d := NewDispatcher(n)
	d.SetFocused(false)

	d.HandleBatch(foreignBatch("bob", "hi"))
	d.HandleBatch(foreignBatch("carol", "yo"))

	assert.Len(t, n.got(), 2, "a failed notification never stops the next one")
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Text)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestTelegramFirstTriggerSendsImmediately(t *testing.T) {
	bot := &fakeSender{}
	n := newTelegramNotifier(bot, 99, time.Hour)
	defer n.Stop()

	require.NoError(t, n.Notify(Trigger{SenderID: "bob", Content: "hi"}))

	got := bot.got()
	require.Len(t, got, 1)
	assert.Equal(t, "bob: hi", got[0])
}

func TestTelegramCoalescesBurstToLatest(t *testing.T) {
	bot := &fakeSender{}
	n := newTelegramNotifier(bot, 99, 40*time.Millisecond)
	defer n.Stop()

	require.NoError(t, n.Notify(Trigger{SenderID: "bob", Content: "one"}))
	require.NoError(t, n.Notify(Trigger{SenderID: "bob", Content: "two"}))
	require.NoError(t, n.Notify(Trigger{SenderID: "carol", Content: "three"}))

	require.Eventually(t, func() bool {
		return len(bot.got()) == 2
	}, time.Second, 5*time.Millisecond, "burst collapses to leading send plus one trailing send")

	got := bot.got()
	assert.Equal(t, "bob: one", got[0])
	assert.Equal(t, "carol: three", got[1], "only the latest trigger of the window survives")

	// No further sends sneak out after the window.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, bot.got(), 2)
}

func TestTelegramStopDropsPending(t *testing.T) {
	bot := &fakeSender{}
	n := newTelegramNotifier(bot, 99, 40*time.Millisecond)

	require.NoError(t, n.Notify(Trigger{SenderID: "bob", Content: "one"}))
	require.NoError(t, n.Notify(Trigger{SenderID: "bob", Content: "two"}))
	n.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, bot.got(), 1, "pending trailing send cancelled")
}

type failingSender struct{}

func (failingSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, errors.New("telegram unreachable")
}

func TestTelegramSendFailureIsReported(t *testing.T) {
	n := newTelegramNotifier(failingSender{}, 99, time.Hour)
	defer n.Stop()

	err := n.Notify(Trigger{SenderID: "bob", Content: "hi"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "telegram"))
}
