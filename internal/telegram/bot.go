package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"legit-bot/internal/conversation"
	"legit-bot/internal/legitcheck"
	"legit-bot/internal/logging"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
)

// Conversations is the conversation engine as seen by the transport.
type Conversations interface {
	Start(ctx context.Context, userID int64, flow session.Flow) (conversation.Reply, error)
	HandleInput(ctx context.Context, userID int64, text string) (conversation.Reply, error)
	HandleAnswer(ctx context.Context, userID int64, token, text string) (conversation.Reply, error)
	Cancel(ctx context.Context, userID int64) (conversation.Reply, error)
}

// Confirmer resolves Legit Check button presses.
type Confirmer interface {
	Confirm(ctx context.Context, ratingID, confirmerID int64) (legitcheck.Outcome, error)
}

type Options struct {
	Token          string
	AdminUserID    int64
	Workers        int
	SendRatePerSec float64
}

type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	conv        Conversations
	store       storage.Store
	legit       Confirmer
	adminUserID int64
	workers     int
}

func New(opts Options, conv Conversations, store storage.Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, err
	}
	b := newBot(newLimitedSender(botAPISender{api: api}, opts.SendRatePerSec), conv, store, opts.AdminUserID)
	b.api = api
	b.workers = opts.Workers
	logging.Infof("Authorized on account @%s", api.Self.UserName)
	return b, nil
}

func newBot(s sender, conv Conversations, store storage.Store, adminUserID int64) *Bot {
	return &Bot{s: s, conv: conv, store: store, adminUserID: adminUserID, workers: 1}
}

// SetConfirmer wires the Legit Check coordinator, which itself notifies
// through the bot.
func (b *Bot) SetConfirmer(c Confirmer) { b.legit = c }

// drainTimeout bounds how long queued updates are still handled after
// shutdown starts.
const drainTimeout = 10 * time.Second

// Start polls Telegram until ctx is cancelled, then drains in-flight updates.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	b.run(ctx, b.api.GetUpdatesChan(u), b.api.StopReceivingUpdates)
}

// run dispatches updates until ctx is cancelled or updates is closed. Handlers
// get a context that survives ctx by up to drainTimeout, so updates already
// queued at shutdown still reach the stores.
func (b *Bot) run(ctx context.Context, updates <-chan tgbotapi.Update, stopReceiving func()) {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	d := newDispatcher(b.workers, 64, func(up tgbotapi.Update) { b.handleUpdate(workCtx, up) })

	for {
		select {
		case <-ctx.Done():
			stopReceiving()
			deadline := time.AfterFunc(drainTimeout, cancelWork)
			d.close()
			deadline.Stop()
			logging.Infof("bot stopped")
			return
		case up, ok := <-updates:
			if !ok {
				d.close()
				return
			}
			d.dispatch(up)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("panic while handling update %d: %v", up.UpdateID, r)
		}
	}()
	switch {
	case up.Message != nil && up.Message.From != nil:
		if up.Message.IsCommand() {
			b.handleCommand(ctx, up.Message)
			return
		}
		b.handleIncomingMessage(ctx, up.Message)
	case up.CallbackQuery != nil && up.CallbackQuery.From != nil:
		b.handleCallback(ctx, up.CallbackQuery)
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		logging.Warnf("failed to send message to %d: %v", chatID, err)
	}
}

// SendAdmin delivers text to the configured admin; it is a no-op without one.
func (b *Bot) SendAdmin(ctx context.Context, text string) error {
	if b.adminUserID == 0 {
		return nil
	}
	if _, err := b.s.Send(tgbotapi.NewMessage(b.adminUserID, text)); err != nil {
		return fmt.Errorf("send admin message: %w", err)
	}
	return nil
}
