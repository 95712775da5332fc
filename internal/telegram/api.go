package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

func (s botAPISender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return s.api.Request(c)
}

// limitedSender keeps outgoing calls under Telegram's global flood limit.
type limitedSender struct {
	next    sender
	limiter *rate.Limiter
}

func newLimitedSender(next sender, perSecond float64) sender {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &limitedSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limitedSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := l.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, err
	}
	return l.next.Send(c)
}

func (l *limitedSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := l.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	return l.next.Request(c)
}
