package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/client/internal/config"
	"roomchat/client/internal/engine"
	"roomchat/client/internal/models"
	"roomchat/client/internal/notify"
	"roomchat/client/internal/session"
	"roomchat/client/internal/transport"
	"roomchat/client/internal/upload"
	"roomchat/client/internal/voice"
)

func main() {
	roomID := flag.String("room", "general", "room id")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	store := session.NewRedisStore(rdb, *roomID, config.IdentityTTL)
	sess := session.New(*roomID, store)

	resumed, err := sess.Resume(ctx)
	if err != nil {
		log.Fatalf("Failed to resume session: %v", err)
	}
	if !resumed {
		fmt.Print("Pick a name to join: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return
		}
		if err := sess.Join(ctx, scanner.Text()); err != nil {
			log.Fatalf("Failed to join: %v", err)
		}
	}
	log.Printf("Joined room %s as %s", *roomID, sess.CurrentUserID())

	var notifier notify.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tn, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, 30*time.Second)
		if err != nil {
			log.Printf("Warning: telegram notifier disabled: %v", err)
		} else {
			defer tn.Stop()
			notifier = tn
		}
	}
	dispatcher := notify.NewDispatcher(notifier)
	dispatcher.OnSound = func() { fmt.Print("\a") }
	// A terminal client is never "focused" in the browser sense; route
	// foreign messages to the notifier when one is configured.
	dispatcher.SetFocused(notifier == nil)

	var eng *engine.Engine
	conn := transport.NewConnector(cfg.WSURL, sinkFunc(func(events []models.Event, isHistory bool) {
		eng.HandleEvents(events, isHistory)
	}))

	eng = engine.New(sess, conn)
	defer eng.Close()
	eng.SetBatchHook(func(b engine.BatchSummary) {
		dispatcher.HandleBatch(b)
		render(eng, b)
	})

	roster := voice.NewRoster(*roomID, conn)
	conn.OnVoice = roster.Fold
	conn.OnStatus = func(connected bool) {
		if connected {
			fmt.Print("\r[connected]\n> ")
		} else {
			fmt.Print("\r[disconnected]\n> ")
		}
	}

	uploader := upload.NewClient(cfg.APIURL, *roomID)

	if err := conn.Connect(*roomID, sess.ConnectionUserID()); err != nil {
		log.Printf("Initial connect failed, retrying: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		inputLoop(ctx, sess, eng, roster, uploader)
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	}
}

// sinkFunc adapts a function to the transport's EventSink.
type sinkFunc func(events []models.Event, isHistory bool)

func (f sinkFunc) HandleEvents(events []models.Event, isHistory bool) { f(events, isHistory) }

func inputLoop(ctx context.Context, sess *session.Session, eng *engine.Engine, roster *voice.Roster, uploader *upload.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/quit":
			return

		case strings.HasPrefix(line, "/nick "):
			announcement, err := sess.Rename(ctx, strings.TrimPrefix(line, "/nick "))
			if err != nil {
				fmt.Println("rename failed:", err)
				break
			}
			eng.SendText(announcement)
			// Display and transport identities are skewed now; a
			// fresh session is the supported way out.
			fmt.Println("Name changed. Restart the client to rebind the connection.")

		case line == "/delete-all":
			if err := eng.DeleteAllMine(); err != nil {
				fmt.Println("delete failed:", err)
			}

		case strings.HasPrefix(line, "/upload "):
			path := strings.TrimPrefix(line, "/upload ")
			if err := sendFile(ctx, eng, uploader, path); err != nil {
				// The inline error string is the whole failure
				// surface; the message list stays untouched.
				fmt.Println("upload failed:", err)
			}

		case line == "/voice":
			roster.JoinLocal(sess.CurrentUserID(), time.Now().Unix())

		case line == "/voice-leave":
			roster.LeaveLocal()

		case line == "/mute":
			roster.ToggleLocalMute()

		default:
			if err := eng.SendText(line); err != nil {
				fmt.Println("send failed:", err)
			}
		}
		fmt.Print("> ")
	}
}

func sendFile(ctx context.Context, eng *engine.Engine, uploader *upload.Client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := uploader.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	return eng.SendFile(fmt.Sprintf("[file] %s", result.Meta.FileName), &result.Meta)
}

func render(eng *engine.Engine, b engine.BatchSummary) {
	messages := eng.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Deleting {
		return
	}
	ts := time.UnixMilli(last.Timestamp).Format("15:04:05")
	edited := ""
	if last.Edited {
		edited = " (edited)"
	}
	fmt.Printf("\r[%s] %s: %s%s\n> ", ts, last.UserID, last.Content, edited)
}
