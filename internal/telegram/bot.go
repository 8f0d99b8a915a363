package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"deriv-signalbot/internal/analysis"
)

// Commands understood by the bot. Inline keyboard buttons carry the same
// names as callback data.
const (
	CmdStart   = "start"
	CmdAnalyze = "analyze"
	CmdStop    = "stop"
	CmdStatus  = "status"
	CmdHelp    = "help"
)

// Analyzer is the part of analysis.Loop the command surface drives.
type Analyzer interface {
	Start(ctx context.Context, sink analysis.Sink) error
	Stop() error
	CurrentStatus() string
}

// Sender is the outgoing half of the Bot API. *Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, id, text string) error
}

// BotConfig configures the command dispatcher.
type BotConfig struct {
	Symbol string

	// AllowedChats restricts commands to these chat IDs. Empty allows all.
	AllowedChats []int64
}

// Bot maps chat commands to the chat's analysis loop.
type Bot struct {
	cfg     BotConfig
	sender  Sender
	loops   func(chatID int64) Analyzer
	allowed map[int64]bool

	// Analysis loops outlive the update that started them, so they run
	// under this context rather than the per-update one.
	baseCtx context.Context

	// Optional hooks.
	OnCommand   func(command string)
	OnSendError func(err error)
}

// NewBot creates a Bot. loops returns the analyzer owned by a chat.
func NewBot(baseCtx context.Context, cfg BotConfig, sender Sender, loops func(chatID int64) Analyzer) *Bot {
	allowed := make(map[int64]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		allowed[id] = true
	}
	return &Bot{
		cfg:     cfg,
		sender:  sender,
		loops:   loops,
		allowed: allowed,
		baseCtx: baseCtx,
	}
}

// Keyboard is attached to the /start reply.
var Keyboard = InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
	{{Text: "▶️ Start Analysis", CallbackData: CmdAnalyze}},
	{{Text: "⏹ Stop Analysis", CallbackData: CmdStop}},
	{{Text: "📊 Status", CallbackData: CmdStatus}},
}}

// HandleUpdate dispatches one update. Delivery errors are logged, never returned.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	switch {
	case u.Message != nil:
		cmd, ok := ParseCommand(u.Message.Text)
		if !ok {
			return
		}
		b.dispatch(ctx, u.Message.Chat.ID, cmd)

	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if err := b.sender.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
			b.sendFailed(err)
		}
		if q.Message == nil {
			return
		}
		cmd, ok := ParseCommand("/" + q.Data)
		if !ok {
			return
		}
		b.dispatch(ctx, q.Message.Chat.ID, cmd)
	}
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, cmd string) {
	if len(b.allowed) > 0 && !b.allowed[chatID] {
		log.Printf("[bot] rejected %q from chat %d", cmd, chatID)
		b.reply(ctx, chatID, "⛔ This chat is not authorized to use this bot.")
		return
	}
	if b.OnCommand != nil {
		b.OnCommand(cmd)
	}

	switch cmd {
	case CmdStart:
		if err := b.sender.SendMessageWithKeyboard(ctx, chatID, b.welcome(), Keyboard); err != nil {
			b.sendFailed(err)
		}

	case CmdAnalyze:
		err := b.loops(chatID).Start(b.baseCtx, b.sinkFor(chatID))
		switch {
		case errors.Is(err, analysis.ErrAlreadyRunning):
			b.reply(ctx, chatID, "⚠️ Analysis is already running.")
		case err != nil:
			log.Printf("[bot] start analysis chat=%d: %v", chatID, err)
			b.reply(ctx, chatID, "❌ Could not start analysis.")
		default:
			log.Printf("[bot] analysis started chat=%d", chatID)
			b.reply(ctx, chatID, fmt.Sprintf("🚀 Analysis started for %s. Signals will be posted here.", b.cfg.Symbol))
		}

	case CmdStop:
		err := b.loops(chatID).Stop()
		switch {
		case errors.Is(err, analysis.ErrNotRunning):
			b.reply(ctx, chatID, "ℹ️ Analysis is not running.")
		case err != nil:
			log.Printf("[bot] stop analysis chat=%d: %v", chatID, err)
			b.reply(ctx, chatID, "❌ Could not stop analysis.")
		default:
			log.Printf("[bot] analysis stopped chat=%d", chatID)
			b.reply(ctx, chatID, "🛑 Analysis stopped.")
		}

	case CmdStatus:
		b.reply(ctx, chatID, "📊 Status: "+b.loops(chatID).CurrentStatus())

	default:
		b.reply(ctx, chatID, helpText)
	}
}

// sinkFor returns the signal sink for a chat. Failures are reported, not returned
// to the loop as fatal.
func (b *Bot) sinkFor(chatID int64) analysis.Sink {
	return func(ctx context.Context, text string) error {
		err := b.sender.SendMessage(ctx, chatID, text)
		if err != nil {
			b.sendFailed(err)
		}
		return err
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.sender.SendMessage(ctx, chatID, text); err != nil {
		b.sendFailed(err)
	}
}

func (b *Bot) sendFailed(err error) {
	log.Printf("[bot] send failed: %v", err)
	if b.OnSendError != nil {
		b.OnSendError(err)
	}
}

func (b *Bot) welcome() string {
	return fmt.Sprintf("🤖 Bot is online ✅\n\n"+
		"I watch %s on the 15m, 5m and 1m charts and post a signal when trend, "+
		"break of structure and an order block wick tap line up.\n\n"+
		"⚠️ Signals are informational only and not financial advice. Trade at your own risk.\n\n"+
		"%s", b.cfg.Symbol, helpText)
}

const helpText = "Commands:\n" +
	"/analyze - start analysis\n" +
	"/stop - stop analysis\n" +
	"/status - show current status"

// ParseCommand extracts the command name from a message like
// "/Analyze@MyBot now". ok is false for non-command text.
func ParseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(cmd)
	if cmd == "" {
		return "", false
	}
	switch cmd {
	case "analyse", "begin":
		cmd = CmdAnalyze
	}
	return cmd, true
}
