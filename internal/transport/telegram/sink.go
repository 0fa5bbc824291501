// Package telegram is a notifier sink that presents fired reminders as
// Telegram messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/notifier"
	logx "remindd/pkg/logx"
)

var ErrNoChat = errors.New("telegram: no chat for owner")

type Config struct {
	Token string
	// Chats maps owner ids to chat ids. DefaultChat receives everything else;
	// zero disables the fallback.
	Chats       map[string]int64
	DefaultChat int64
	ThreadID    int
	Timeout     time.Duration
}

// sender is the part of *tele.Bot the sink needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sink struct {
	cfg Config
	log logx.Logger
	bot sender
}

// New builds a send-only bot. No updates are polled.
func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:     cfg.Token,
		ParseMode: tele.ModeHTML,
		Client:    &http.Client{Timeout: cfg.Timeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newSink(cfg, log, b), nil
}

func newSink(cfg Config, log logx.Logger, bot sender) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: bot}
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) chatFor(owner string) (int64, bool) {
	if id, ok := s.cfg.Chats[owner]; ok && id != 0 {
		return id, true
	}
	return s.cfg.DefaultChat, s.cfg.DefaultChat != 0
}

func (s *Sink) Deliver(ctx context.Context, m notifier.Message) error {
	chatID, ok := s.chatFor(m.OwnerID)
	if !ok {
		// Not an error worth retrying.
		s.log.Debug("no telegram chat for owner", logx.String("owner_id", m.OwnerID))
		return nil
	}
	chat := &tele.Chat{ID: chatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: s.cfg.ThreadID}

	for _, chunk := range splitText(render(m), textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, opts); err != nil {
			return fmt.Errorf("telegram send to %d: %w", chatID, err)
		}
	}
	return nil
}

func render(m notifier.Message) string {
	var b strings.Builder
	b.WriteString("⏰ ")
	if m.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(m.Title))
		b.WriteString("</b>")
	}
	if m.Body != "" {
		if m.Title != "" {
			b.WriteString("\n")
		}
		b.WriteString(html.EscapeString(m.Body))
	}
	return b.String()
}
