// Package notify delivers operator alerts over Telegram.
//
// Delivery is best-effort and rate limited; a failed or throttled send
// never blocks or fails the automation cycle that raised it.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "punchd/pkg/logx"
)

type Config struct {
	Enabled bool
	Token   string
	ChatID  int64
	// MaxPerMinute caps outgoing alerts. Zero means DefaultMaxPerMinute.
	MaxPerMinute int
}

const DefaultMaxPerMinute = 20

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends alert texts to a fixed chat. The zero value is not
// usable; construct with New.
type Telegram struct {
	bot     sender
	chat    *tele.Chat
	lim     *rate.Limiter
	log     logx.Logger
	dropped atomic.Int64
}

func New(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat id is empty")
	}
	// No poller: this bot only sends, it never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	perMin := cfg.MaxPerMinute
	if perMin <= 0 {
		perMin = DefaultMaxPerMinute
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		log:  log,
	}, nil
}

// Alert sends text to the configured chat. Throttled or failed sends
// are logged and dropped. Safe for concurrent callers.
func (t *Telegram) Alert(ctx context.Context, text string) {
	if t == nil || t.bot == nil {
		return
	}
	if !t.lim.Allow() {
		t.log.Warn("alert throttled", logx.Int64("dropped", t.dropped.Add(1)))
		return
	}
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, text, tele.NoPreview)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.log.Warn("alert send failed", logx.Err(err))
		}
	case <-ctx.Done():
		t.log.Warn("alert send cancelled", logx.Err(ctx.Err()))
	}
}
