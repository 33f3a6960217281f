package xfer

import (
	"context"
	"time"
)

// startKeepAlive queues a NOOP whenever q has been idle for the configured
// idle timeout. It stops when q is closed. Transports that do not implement
// Pinger are not kept alive.
func (s *Session) startKeepAlive(q *dispatchQueue, t Transport) {
	if s.idleTimeout == 0 {
		return
	}
	pinger, ok := t.(Pinger)
	if !ok {
		return
	}

	// We use a ticker that runs at half the idle timeout to be safe
	ticker := time.NewTicker(s.idleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !q.idle() || q.idleFor() < s.idleTimeout {
					continue
				}
				s.logger.Debug("sending keep-alive NOOP")
				q.push(&operation{
					name: "noop",
					ctx:  context.Background(),
					exec: func(Transport) error {
						err := pinger.Noop()
						if err != nil {
							s.logger.Debug("keep-alive failed", "error", err)
						}
						return err
					},
					abort: func(error) {},
				})
			case <-q.done:
				return
			}
		}
	}()
}
