package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the slice of the Telegram bot API the notifier needs.
// *tgbotapi.BotAPI satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier forwards triggers to a Telegram chat. Triggers arriving
// inside the minimum interval are coalesced: the latest one is kept and sent
// once the interval elapses, the rest are dropped.
type TelegramNotifier struct {
	bot         sender
	chatID      int64
	minInterval time.Duration

	mu       sync.Mutex
	lastSent time.Time
	pending  *Trigger
	timer    *time.Timer
	now      func() time.Time
}

// NewTelegramNotifier authorizes the bot and returns a notifier posting to
// chatID with at most one message per minInterval.
func NewTelegramNotifier(token string, chatID int64, minInterval time.Duration) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, minInterval), nil
}

func newTelegramNotifier(bot sender, chatID int64, minInterval time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		bot:         bot,
		chatID:      chatID,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Notify forwards t, or queues it for the trailing send when inside the
// rate-limit window.
func (n *TelegramNotifier) Notify(t Trigger) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	elapsed := n.now().Sub(n.lastSent)
	if elapsed >= n.minInterval {
		return n.sendLocked(t)
	}

	// Keep only the latest trigger of the window.
	n.pending = &t
	if n.timer == nil {
		n.timer = time.AfterFunc(n.minInterval-elapsed, n.flush)
	}
	return nil
}

func (n *TelegramNotifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timer = nil
	if n.pending == nil {
		return
	}
	t := *n.pending
	n.pending = nil
	if err := n.sendLocked(t); err != nil {
		// Contained: a lost notification is not an engine failure.
		log.Printf("notify: trailing send: %v", err)
	}
}

func (n *TelegramNotifier) sendLocked(t Trigger) error {
	msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("%s: %s", t.SenderID, t.Content))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	n.lastSent = n.now()
	return nil
}

// Stop cancels any trailing send.
func (n *TelegramNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.pending = nil
}
