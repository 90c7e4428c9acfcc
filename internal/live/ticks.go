package live

import (
	"context"
	"errors"
	"time"

	"memetrader/internal/solana"
)

// TickSource paces a live run.
type TickSource interface {
	// Wait blocks until the next tick is due.
	Wait(ctx context.Context) error
}

// IntervalSource ticks on a fixed period. The first tick is immediate.
type IntervalSource struct {
	ticker  *time.Ticker
	started bool
}

// NewIntervalSource creates an IntervalSource.
func NewIntervalSource(d time.Duration) *IntervalSource {
	return &IntervalSource{ticker: time.NewTicker(d)}
}

// Wait implements TickSource.
func (s *IntervalSource) Wait(ctx context.Context) error {
	if !s.started {
		s.started = true
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

// Stop releases the ticker.
func (s *IntervalSource) Stop() {
	s.ticker.Stop()
}

// ErrSlotStreamClosed is returned when the slot subscription ends.
var ErrSlotStreamClosed = errors.New("slot stream closed")

// SlotSource ticks every n slots of a slotSubscribe stream.
type SlotSource struct {
	slots <-chan solana.SlotNotification
	every int64
	last  int64
}

// NewSlotSource subscribes to slots on ws.
func NewSlotSource(ctx context.Context, ws solana.SlotSubscriber, every int64) (*SlotSource, error) {
	slots, err := ws.SubscribeSlots(ctx)
	if err != nil {
		return nil, err
	}
	return &SlotSource{slots: slots, every: max(every, 1)}, nil
}

// Wait implements TickSource. Slots dropped by a slow consumer are
// skipped, not replayed.
func (s *SlotSource) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-s.slots:
			if !ok {
				return ErrSlotStreamClosed
			}
			if s.last == 0 || n.Slot-s.last >= s.every {
				s.last = n.Slot
				return nil
			}
		}
	}
}

// Compile-time interface checks.
var (
	_ TickSource = (*IntervalSource)(nil)
	_ TickSource = (*SlotSource)(nil)
)
