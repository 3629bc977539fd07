// Package notify forwards important activity entries to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 10 * time.Second
	// maxMessageLength is Telegram's text limit.
	maxMessageLength = 4096
)

// Sender sends a Telegram message. *telego.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Config configures the notifier.
type Config struct {
	Token    string
	ChatID   int64
	MinLevel activity.Level
	// QueueSize bounds pending messages; extra entries are dropped.
	QueueSize   int
	SendTimeout time.Duration
}

// Notifier queues entries from the activity log and sends them in the
// background so the log's synchronous delivery is never blocked by the
// network.
type Notifier struct {
	cfg    Config
	sender Sender
	logger *logger.Logger
	queue  chan activity.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTelegram creates a notifier backed by a telego bot.
func NewTelegram(cfg Config, log *logger.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return New(bot, cfg, log), nil
}

// New creates a notifier over sender.
func New(sender Sender, cfg Config, log *logger.Logger) *Notifier {
	if cfg.MinLevel == "" {
		cfg.MinLevel = activity.LevelWarning
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Notifier{
		cfg:    cfg,
		sender: sender,
		logger: log,
		queue:  make(chan activity.Entry, cfg.QueueSize),
	}
}

// Attach subscribes to l. Entries below MinLevel are ignored.
func (n *Notifier) Attach(l *activity.Log) (unsubscribe func()) {
	return l.Subscribe(n.Enqueue)
}

// Enqueue queues e when it meets the threshold. It never blocks.
func (n *Notifier) Enqueue(e activity.Entry) {
	if e.Level.Severity() < n.cfg.MinLevel.Severity() {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("notification dropped: queue full",
			logger.Field{Key: "action", Value: e.Action})
	}
}

// Start sends queued entries until Stop or ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.running = true

	go n.run(runCtx, n.done)
	n.logger.Info("telegram notifier started",
		logger.Field{Key: "chat_id", Value: n.cfg.ChatID},
		logger.Field{Key: "min_level", Value: string(n.cfg.MinLevel)})
}

// Stop halts sending and waits for the worker. Queued entries are dropped.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	cancel()
	<-done
}

func (n *Notifier) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			n.send(ctx, e)
		}
	}
}

func (n *Notifier) send(ctx context.Context, e activity.Entry) {
	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()

	_, err := n.sender.SendMessage(sendCtx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: n.cfg.ChatID},
		Text:   Format(e),
	})
	if err != nil {
		n.logger.Error("failed to send notification", err,
			logger.Field{Key: "chat_id", Value: n.cfg.ChatID},
			logger.Field{Key: "action", Value: e.Action})
	}
}

// Format renders an entry as plain message text.
func Format(e activity.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(e.Level)), e.Action)
	if e.Source != "" {
		fmt.Fprintf(&b, " (%s)", e.Source)
	}
	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(e.Details)
	}
	if !e.Timestamp.IsZero() {
		b.WriteString("\n")
		b.WriteString(e.Timestamp.Format(time.RFC3339))
	}
	return truncate(b.String(), maxMessageLength)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
