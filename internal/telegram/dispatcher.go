package telegram

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// dispatcher fans updates out to a fixed set of workers. All updates of one
// user land on the same worker, so they are handled one at a time and in
// arrival order while different users proceed in parallel.
type dispatcher struct {
	queues []chan tgbotapi.Update
	wg     sync.WaitGroup
}

func newDispatcher(workers, buffer int, handle func(tgbotapi.Update)) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &dispatcher{queues: make([]chan tgbotapi.Update, workers)}
	for i := range d.queues {
		q := make(chan tgbotapi.Update, buffer)
		d.queues[i] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for u := range q {
				handle(u)
			}
		}()
	}
	return d
}

func (d *dispatcher) shard(userID int64) int {
	return int(uint64(userID) % uint64(len(d.queues)))
}

func (d *dispatcher) dispatch(u tgbotapi.Update) {
	d.queues[d.shard(updateUserID(u))] <- u
}

// close stops accepting updates and waits for queued ones to finish.
func (d *dispatcher) close() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

func updateUserID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}
