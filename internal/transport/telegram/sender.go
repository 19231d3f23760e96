// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"skillswap/internal/transport"
	logx "skillswap/pkg/logx"
)

// Config configures the Telegram sender.
type Config struct {
	Token string
	// Recipients maps user ids to Telegram chat ids.
	Recipients map[string]int64
	// ParseMode is passed through to Telegram ("", "HTML", "Markdown").
	ParseMode string
	// Offline skips the getMe call at construction.
	Offline bool
}

// api is the slice of *tele.Bot the sender uses.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Sender struct {
	log logx.Logger
	bot api

	mu         sync.RWMutex
	recipients map[string]int64
	parseMode  tele.ParseMode
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newSender(cfg, b, log), nil
}

func newSender(cfg Config, bot api, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{log: log.With(logx.String("comp", "sender.telegram")), bot: bot}
	s.Apply(cfg)
	return s
}

// Apply swaps the recipient map and parse mode.
func (s *Sender) Apply(cfg Config) {
	rec := make(map[string]int64, len(cfg.Recipients))
	for k, v := range cfg.Recipients {
		rec[strings.TrimSpace(k)] = v
	}
	s.mu.Lock()
	s.recipients = rec
	s.parseMode = tele.ParseMode(cfg.ParseMode)
	s.mu.Unlock()
}

func (s *Sender) Name() string { return "telegram" }

func (s *Sender) Send(ctx context.Context, userID, text string) error {
	s.mu.RLock()
	chatID, ok := s.recipients[userID]
	mode := s.parseMode
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNoRecipient, userID)
	}

	opts := &tele.SendOptions{ParseMode: mode, DisableWebPagePreview: true}
	for _, chunk := range splitText(text, textLimit, string(mode)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if _, err := s.bot.Send(tele.ChatID(chatID), chunk, opts); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		s.log.Debug("sent", logx.String("user", userID), logx.Duration("took", time.Since(start)))
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts. It prefers
// newline boundaries and, in HTML mode, avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
