package bot

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/laraujo4/chatbot-empresa/internal/config"
	"github.com/laraujo4/chatbot-empresa/internal/model"
	"github.com/laraujo4/chatbot-empresa/internal/repository"
	"github.com/laraujo4/chatbot-empresa/internal/service"
	"github.com/laraujo4/chatbot-empresa/internal/transport"
)

// ConnProvider hands out the current transport connection. The handle
// is fetched fresh on every message, never cached, because restarts
// replace the underlying object.
type ConnProvider interface {
	Current() transport.Conn
}

// Bot dispatches inbound messages: filter, business-hours gate,
// greeting check, dialogue transition, in that fixed order.
type Bot struct {
	conns  ConnProvider
	ledger *repository.GreetingLedger
	hours  *service.HoursService
	config *config.Config

	mu       sync.Mutex
	sessions map[string]*model.UserSession
	locks    map[string]*sync.Mutex
}

func New(conns ConnProvider, ledger *repository.GreetingLedger, hours *service.HoursService, cfg *config.Config) *Bot {
	return &Bot{
		conns:    conns,
		ledger:   ledger,
		hours:    hours,
		config:   cfg,
		sessions: make(map[string]*model.UserSession),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Dispatch is the entry point wired to the connection's message event.
// Each message is handled on its own goroutine; per-chat locking keeps
// handling effectively serial per sender, and a recover keeps one bad
// message from taking the process down.
func (b *Bot) Dispatch(ctx context.Context, msg transport.Message) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic while handling message from %s: %v", msg.From, r)
			}
		}()
		if err := b.HandleMessage(ctx, msg); err != nil {
			log.Printf("handle message: %v", err)
		}
	}()
}

// HandleMessage runs the full dispatch pipeline for one inbound
// message. Send failures are logged and never affect conversation
// state: transitions are decided before any send happens.
func (b *Bot) HandleMessage(ctx context.Context, msg transport.Message) error {
	chatLock := b.chatLock(msg.From)
	chatLock.Lock()
	defer chatLock.Unlock()

	d := decide(msg, b.currentOption(msg.From), b.hours.IsOutsideWindow(time.Now()), b.ledger.HasGreetedToday(msg.From), b.config.GreetingTriggers)
	if d.outcome == outcomeFiltered {
		return nil
	}

	session := b.session(msg.From)
	session.LastActive = time.Now()

	conn := b.conns.Current()
	if conn == nil {
		log.Printf("[warn] no connection, dropping message from %s", msg.From)
		return nil
	}

	switch d.outcome {
	case outcomeClosed:
		if !session.NotifiedOutOfHours {
			session.NotifiedOutOfHours = true
			b.send(ctx, conn, msg.From, textClosed)
		}
	case outcomeWelcome:
		session.CurrentOption = model.OptionNone
		b.sendMenu(ctx, conn, msg, welcomeMenu)
		b.ledger.MarkGreetedNow(msg.From)
	case outcomeReprompt:
		session.CurrentOption = model.OptionNone
		b.send(ctx, conn, msg.From, repromptMenu(lookupName(msg, conn)))
	case outcomeSelectOption:
		session.CurrentOption = d.option
		log.Printf("[info] chat %s selected option %s", msg.From, d.option)
		b.sendScript(ctx, conn, msg.From, optionScript(d.option))
	case outcomeReturnToMenu:
		session.CurrentOption = model.OptionNone
		b.sendMenu(ctx, conn, msg, welcomeMenu)
		b.ledger.MarkGreetedNow(msg.From)
	case outcomeFreeText:
		// Order details for a human; no automated reply.
	case outcomeFallback:
		b.send(ctx, conn, msg.From, textFallback)
	}
	return nil
}

// staleSessionAge is how long a session may sit idle before the
// midnight cleanup evicts it instead of resetting it.
const staleSessionAge = 24 * time.Hour

// CleanupDaily resets every session to the menu root, clears the
// out-of-hours notice flags and evicts sessions idle for more than a
// day. Wired to the midnight scheduler.
func (b *Bot) CleanupDaily() {
	cutoff := time.Now().Add(-staleSessionAge)
	b.mu.Lock()
	for chatID, session := range b.sessions {
		// Locks are kept: a handler may still hold one for an in-flight
		// message, and a fresh lock would break per-chat serialization.
		if session.LastActive.Before(cutoff) {
			delete(b.sessions, chatID)
			continue
		}
		session.CurrentOption = model.OptionNone
		session.NotifiedOutOfHours = false
	}
	b.mu.Unlock()
	log.Println("[info] daily session cleanup done")
}

// Sessions returns a snapshot of the tracked session count.
func (b *Bot) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Bot) sendMenu(ctx context.Context, conn transport.Conn, msg transport.Message, menu func(string) string) {
	b.typing(ctx, conn, msg.From)
	b.pause(ctx, b.config.TypingDelay*3/2)
	b.send(ctx, conn, msg.From, menu(lookupName(msg, conn)))
}

// sendScript delivers the steps of an option reply in order, with a
// typing indicator and a short pacing delay between text chunks. Image
// steps go out only when the configured menu image file exists.
func (b *Bot) sendScript(ctx context.Context, conn transport.Conn, chatID string, steps []scriptStep) {
	for i, step := range steps {
		if step.imageCaption != "" {
			b.sendMenuImage(ctx, conn, chatID, step.imageCaption)
			continue
		}
		b.typing(ctx, conn, chatID)
		b.pause(ctx, b.config.TypingDelay)
		b.send(ctx, conn, chatID, step.text)
		if i < len(steps)-1 && ctx.Err() != nil {
			return
		}
	}
}

// sendMenuImage sends the menu picture if one is configured and present
// on disk; otherwise the step is silently skipped.
func (b *Bot) sendMenuImage(ctx context.Context, conn transport.Conn, chatID, caption string) {
	path := b.config.MenuImagePath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := conn.SendImage(ctx, chatID, path, caption); err != nil {
		log.Printf("send menu image to %s: %v", chatID, err)
	}
}

func (b *Bot) send(ctx context.Context, conn transport.Conn, chatID, text string) {
	if err := conn.SendText(ctx, chatID, text); err != nil {
		log.Printf("send to %s: %v", chatID, err)
	}
}

func (b *Bot) typing(ctx context.Context, conn transport.Conn, chatID string) {
	chat, err := conn.ChatByID(chatID)
	if err != nil {
		log.Printf("get chat %s: %v", chatID, err)
		return
	}
	if err := chat.SendTyping(ctx); err != nil {
		log.Printf("typing indicator for %s: %v", chatID, err)
	}
}

func (b *Bot) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (b *Bot) session(chatID string) *model.UserSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	session, ok := b.sessions[chatID]
	if !ok {
		session = &model.UserSession{LastActive: time.Now()}
		b.sessions[chatID] = session
	}
	return session
}

func (b *Bot) currentOption(chatID string) model.MenuOption {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session, ok := b.sessions[chatID]; ok {
		return session.CurrentOption
	}
	return model.OptionNone
}

func (b *Bot) chatLock(chatID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[chatID] = lock
	}
	return lock
}
