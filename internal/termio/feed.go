package termio

import (
	"context"
	"io"
)

// readBufferSize matches the chunk size the relays read with.
const readBufferSize = 32 * 1024

// Feed reads r until it fails, decodes each chunk and delivers the events on
// the returned channel in arrival order. The channel is closed when r
// returns an error or ctx is cancelled.
func Feed(ctx context.Context, r io.Reader) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range Decode(buf[:n]) {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return events
}

// Next waits for the next event. It returns ErrInputClosed once the channel
// is closed, or the context error.
func Next(ctx context.Context, input <-chan Event) (Event, error) {
	select {
	case ev, ok := <-input:
		if !ok {
			return Event{}, ErrInputClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
