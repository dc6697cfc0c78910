package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/conversation"
)

const unauthorizedText = "Sorry, you are not on the whitelist for this bot."

type Handler interface {
	HandleInboundText(ctx context.Context, userID, text string) []conversation.OutboundMessage
}

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markdown bool) error
}

type Updater interface {
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
}

// Dispatcher feeds updates to the handler. Messages of one user run in
// arrival order on that user's queue; different users run concurrently.
type Dispatcher struct {
	handler Handler
	sender  Sender
	allowed map[string]bool
	log     zerolog.Logger

	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration

	mu     sync.Mutex
	queues map[int64]*userQueue
	wg     sync.WaitGroup
}

type userQueue struct {
	pending []Message
}

// NewDispatcher accepts usernames (with or without @) or numeric user ids in
// allowed. An empty list lets everyone in.
func NewDispatcher(handler Handler, sender Sender, allowed []string, logger zerolog.Logger) *Dispatcher {
	set := make(map[string]bool, len(allowed))
	for _, u := range allowed {
		set[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))] = true
	}
	return &Dispatcher{
		handler:    handler,
		sender:     sender,
		allowed:    set,
		log:        logger,
		RetryDelay: 5 * time.Second,
		queues:     make(map[int64]*userQueue),
	}
}

func (d *Dispatcher) authorized(u User) bool {
	if len(d.allowed) == 0 {
		return true
	}
	return d.allowed[strings.ToLower(u.Username)] || d.allowed[strconv.FormatInt(u.ID, 10)]
}

func senderKey(msg Message) int64 {
	if msg.From.ID != 0 {
		return msg.From.ID
	}
	return msg.Chat.ID
}

// Dispatch queues the update's message. It never blocks on handling.
func (d *Dispatcher) Dispatch(ctx context.Context, upd Update) {
	msg := upd.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !d.authorized(msg.From) {
		d.log.Warn().Str("username", msg.From.Username).Int64("user", msg.From.ID).Msg("unauthorized access attempt")
		d.reply(ctx, msg.Chat.ID, conversation.OutboundMessage{Text: unauthorizedText})
		return
	}

	key := senderKey(*msg)
	d.mu.Lock()
	q, running := d.queues[key]
	if !running {
		q = &userQueue{}
		d.queues[key] = q
	}
	q.pending = append(q.pending, *msg)
	if running {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, key, q)
}

func (d *Dispatcher) drain(ctx context.Context, key int64, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.handle(ctx, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg Message) {
	userID := strconv.FormatInt(senderKey(msg), 10)
	d.log.Info().Str("user", userID).Str("username", msg.From.Username).Str("text", msg.Text).Msg("message received")
	for _, out := range d.handler.HandleInboundText(ctx, userID, msg.Text) {
		d.reply(ctx, msg.Chat.ID, out)
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, out conversation.OutboundMessage) {
	if err := d.sender.SendMessage(ctx, chatID, out.Text, out.Markdown); err != nil {
		d.log.Error().Err(err).Int64("chat", chatID).Msg("send message")
	}
}

// Wait blocks until every queued message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Poll long-polls updates until ctx ends, then waits for queued work.
func (d *Dispatcher) Poll(ctx context.Context, updater Updater) error {
	d.log.Info().Msg("polling for messages")
	var offset int64
	for {
		updates, err := updater.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.log.Warn().Err(err).Msg("get updates")
			select {
			case <-ctx.Done():
			case <-time.After(d.RetryDelay):
			}
			continue
		}
		for _, upd := range updates {
			d.Dispatch(ctx, upd)
			offset = upd.UpdateID + 1
		}
		if ctx.Err() != nil {
			break
		}
	}
	d.Wait()
	return ctx.Err()
}
