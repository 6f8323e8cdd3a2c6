package remind

import (
	"context"
	"time"

	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

const deliverTimeout = 15 * time.Second

type delivery struct {
	kind      string // "reminder" or "digest"
	text      string
	broadcast bool
}

// enqueueDelivery is non-blocking: if the dispatch queue is full the message
// is dropped with a warning. Delivery is best-effort by contract; backing up
// the timer loop would be worse than losing a send.
func (s *Service) enqueueDelivery(d delivery) {
	select {
	case s.deliveries <- d:
	default:
		s.log.Warn("dispatch queue full; dropping notification",
			logx.String("kind", d.kind),
			logx.Int("queue_cap", cap(s.deliveries)))
	}
}

// dispatchWorker drains the delivery queue. Port errors are logged and
// swallowed: a fired job is complete regardless of delivery outcome, and no
// error from the boundary may crash the loop.
func (s *Service) dispatchWorker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.deliveries:
			s.deliverOne(ctx, idx, d)
		}
	}
}

func (s *Service) deliverOne(ctx context.Context, idx int, d delivery) {
	sendCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	start := time.Now()
	if err := s.port.Deliver(sendCtx, d.text, d.broadcast); err != nil {
		s.log.Warn("notification delivery failed",
			logx.String("kind", d.kind),
			logx.Int("worker", idx),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("notification delivered",
		logx.String("kind", d.kind),
		logx.Int("worker", idx),
		logx.Duration("took", time.Since(start)))
}
