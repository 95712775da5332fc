package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"legit-bot/internal/conversation"
	"legit-bot/internal/legitcheck"
	"legit-bot/internal/logging"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
)

// Callback payloads.
const (
	answerPrefix = "ans:"
	legitPrefix  = "legit:"
	cancelData   = "cancel"
)

const (
	helpText = "Witaj w systemie ocen sprzedawców!\n\n" +
		"Komendy:\n" +
		"/dodaj_sprzedawce – zarejestruj siebie lub sprzedawcę\n" +
		"/ocen – oceń sprzedawcę\n" +
		"/zglos – zgłoś problem\n" +
		"/sprawdz @nick – sprawdź sprzedawcę\n" +
		"/zweryfikuj – sprzedawca potwierdza konto\n" +
		"/anuluj – przerwij bieżącą rozmowę"
	checkUsageText    = "Użycie: /sprawdz @nick"
	checkNotFoundText = "❌ Nie znaleziono sprzedawcy."
	unknownCmdText    = "Nieznana komenda. Wpisz /help, aby zobaczyć listę komend."
	nothingToCancel   = "Nie masz aktywnej rozmowy."
	cancelButtonText  = "❎ Anuluj"
	staleAnswerText   = "To pytanie jest już nieaktualne."
)

var flowCommands = map[string]session.Flow{
	"dodaj_sprzedawce": session.FlowAddSeller,
	"ocen":             session.FlowRateSeller,
	"zglos":            session.FlowReportSeller,
	"zweryfikuj":       session.FlowVerifySeller,
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	cmd := msg.Command()
	if flow, ok := flowCommands[cmd]; ok {
		reply, err := b.conv.Start(ctx, userID, flow)
		if err != nil {
			logging.Errorw("failed to start flow", "user_id", userID, "flow", flow, "error", err)
		}
		// "/ocen @nick" answers the first question right away.
		if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" && err == nil {
			reply, err = b.conv.HandleInput(ctx, userID, arg)
			if err != nil {
				logging.Errorw("failed to handle input", "user_id", userID, "flow", flow, "error", err)
			}
		}
		b.sendReply(msg.Chat.ID, reply)
		return
	}

	switch cmd {
	case "start", "help":
		b.sendMessage(msg.Chat.ID, helpText)
	case "sprawdz":
		b.handleCheckSeller(ctx, msg)
	case "anuluj", "cancel":
		b.cancel(ctx, msg.Chat.ID, userID)
	default:
		b.sendMessage(msg.Chat.ID, unknownCmdText)
	}
}

func (b *Bot) handleCheckSeller(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.sendMessage(msg.Chat.ID, checkUsageText)
		return
	}
	username, ok := conversation.NormalizeUsername(args[0])
	if !ok {
		b.sendMessage(msg.Chat.ID, checkUsageText)
		return
	}
	seller, err := b.store.GetSellerByUsername(ctx, username)
	switch {
	case err == nil:
		b.sendMessage(msg.Chat.ID, conversation.SellerCard(seller))
	case errors.Is(err, storage.ErrNotFound):
		b.sendMessage(msg.Chat.ID, checkNotFoundText)
	default:
		logging.Errorw("seller lookup failed", "username", username, "error", err)
		b.sendMessage(msg.Chat.ID, "⚠️ Nie udało się sprawdzić sprzedawcy. Spróbuj później.")
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	logging.Debugf("Incoming message from %d (@%s): %q", msg.From.ID, msg.From.UserName, msg.Text)
	reply, err := b.conv.HandleInput(ctx, msg.From.ID, msg.Text)
	if err != nil {
		logging.Errorw("failed to handle input", "user_id", msg.From.ID, "error", err)
	}
	if reply.Kind == conversation.ReplyNoOp {
		b.sendMessage(msg.Chat.ID, helpText)
		return
	}
	b.sendReply(msg.Chat.ID, reply)
}

func (b *Bot) cancel(ctx context.Context, chatID, userID int64) {
	reply, err := b.conv.Cancel(ctx, userID)
	if err != nil {
		logging.Errorw("failed to cancel flow", "user_id", userID, "error", err)
	}
	if reply.Kind == conversation.ReplyNoOp {
		b.sendMessage(chatID, nothingToCancel)
		return
	}
	b.sendReply(chatID, reply)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.From.ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	switch {
	case cb.Data == cancelData:
		b.answerCallback(cb.ID, "")
		b.cancel(ctx, chatID, cb.From.ID)
	case strings.HasPrefix(cb.Data, answerPrefix):
		token, answer, ok := strings.Cut(strings.TrimPrefix(cb.Data, answerPrefix), ":")
		if !ok {
			b.answerCallback(cb.ID, staleAnswerText)
			return
		}
		reply, err := b.conv.HandleAnswer(ctx, cb.From.ID, token, answer)
		if err != nil {
			logging.Errorw("failed to handle quick reply", "user_id", cb.From.ID, "error", err)
		}
		if reply.Kind == conversation.ReplyNoOp {
			b.answerCallback(cb.ID, staleAnswerText)
			return
		}
		b.answerCallback(cb.ID, "")
		b.sendReply(chatID, reply)
	case strings.HasPrefix(cb.Data, legitPrefix):
		b.handleLegitCheck(ctx, cb)
	default:
		b.answerCallback(cb.ID, "")
	}
}

func (b *Bot) handleLegitCheck(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	ratingID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, legitPrefix), 10, 64)
	if err != nil || b.legit == nil {
		b.answerCallback(cb.ID, "Nieprawidłowe żądanie.")
		return
	}
	outcome, err := b.legit.Confirm(ctx, ratingID, cb.From.ID)
	if err != nil {
		logging.Errorw("legit check confirm failed", "rating_id", ratingID, "user_id", cb.From.ID, "error", err)
		b.answerCallback(cb.ID, "⚠️ Coś poszło nie tak. Spróbuj ponownie.")
		return
	}
	b.answerCallback(cb.ID, legitOutcomeText(outcome))
}

func legitOutcomeText(o legitcheck.Outcome) string {
	switch o {
	case legitcheck.OutcomeConfirmed:
		return "Potwierdzono transakcję!"
	case legitcheck.OutcomeAlreadyConfirmed:
		return "Transakcja była już potwierdzona."
	case legitcheck.OutcomeExpired:
		return "Czas na potwierdzenie minął."
	case legitcheck.OutcomeForbidden:
		return "Tylko sprzedawca może potwierdzić tę transakcję."
	}
	return "Nie znaleziono opinii."
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.s.Request(tgbotapi.NewCallback(id, text)); err != nil {
		logging.Warnf("failed to answer callback: %v", err)
	}
}

func (b *Bot) sendReply(chatID int64, reply conversation.Reply) {
	if reply.Text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if kb, ok := replyKeyboard(reply); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := b.s.Send(msg); err != nil {
		logging.Warnf("failed to send reply to %d: %v", chatID, err)
	}
}

// replyKeyboard renders quick replies as one button row and adds a cancel
// button to every question. Answer payloads are "ans:<token>:<label>".
func replyKeyboard(reply conversation.Reply) (tgbotapi.InlineKeyboardMarkup, bool) {
	if reply.Kind != conversation.ReplyPrompt && reply.Kind != conversation.ReplyInvalid {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	if len(reply.Options) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(reply.Options))
		for _, opt := range reply.Options {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(opt, answerPrefix+reply.Token+":"+opt))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(cancelButtonText, cancelData)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// RequestConfirmation asks the seller's owner to confirm a rated transaction.
func (b *Bot) RequestConfirmation(ctx context.Context, ownerID int64, seller storage.Seller, rating storage.Rating) error {
	text := fmt.Sprintf("Otrzymałeś nową opinię jako @%s. Potwierdź transakcję:", seller.Username)
	msg := tgbotapi.NewMessage(ownerID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Legit Check", legitPrefix+strconv.FormatInt(rating.ID, 10)),
		),
	)
	if _, err := b.s.Send(msg); err != nil {
		return fmt.Errorf("send legit check prompt: %w", err)
	}
	return nil
}

// NotifyBuyer tells the buyer that the seller confirmed their transaction.
func (b *Bot) NotifyBuyer(ctx context.Context, buyerID int64, seller storage.Seller) error {
	text := fmt.Sprintf("✅ Sprzedawca @%s potwierdził udaną transakcję.", seller.Username)
	if _, err := b.s.Send(tgbotapi.NewMessage(buyerID, text)); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}
	return nil
}

var _ legitcheck.Notifier = (*Bot)(nil)
