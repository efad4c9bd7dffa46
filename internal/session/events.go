package session

import (
	"context"

	"github.com/dkeye/classroom/internal/sdk"
)

func (c *Controller) startLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	go c.loop(ctx, c.loopDone)
}

func (c *Controller) stopLoop() {
	c.mu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// loop handles room notifications one at a time, in arrival order.
// Queued events always predate overflowed ones, so the queue is drained
// before the overflow.
func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
			continue
		default:
		}
		if ev, ok := c.popOverflow(); ok {
			c.handle(ctx, ev)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		case <-c.wake:
		}
	}
}

// enqueue is the handler registered on the media client. Once the queue
// is full later events go to the overflow, which keeps every departure
// so no tile outlives its participant.
func (c *Controller) enqueue(ev sdk.Event) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.overflow) == 0 {
		select {
		case c.events <- ev:
			return
		default:
		}
	}
	if _, ok := ev.(sdk.ParticipantLeft); !ok {
		c.logger.Warn().Msgf("event queue full, dropping %T", ev)
		return
	}
	c.overflow = append(c.overflow, ev)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) popOverflow() (sdk.Event, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.overflow) == 0 {
		return nil, false
	}
	ev := c.overflow[0]
	c.overflow = c.overflow[1:]
	return ev, true
}

func (c *Controller) handle(ctx context.Context, ev sdk.Event) {
	switch e := ev.(type) {
	case sdk.ParticipantPublished:
		if e.ID == c.id.ParticipantID {
			return
		}
		// errors are reported by the registry and stay with this participant
		_ = c.Remote.HandlePublished(ctx, e.ID, e.Kind)
	case sdk.ParticipantLeft:
		if e.ID == c.id.ParticipantID {
			return
		}
		c.Remote.HandleLeft(e.ID)
	case sdk.ConnectionStateChanged:
		c.logger.Info().Str("prev", string(e.Prev)).Str("current", string(e.Current)).Msg("connection state")
		if e.Current == sdk.StateDisconnected {
			c.feed.Errorf("the connection to the server was lost")
		}
	case sdk.NetworkQuality:
		c.logger.Debug().Str("quality", e.Quality.String()).Dur("rtt", e.RTT).Msg("network quality")
	default:
		c.logger.Warn().Msgf("unknown event %T", ev)
	}
}
