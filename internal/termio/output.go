package termio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrWriterClosed is returned by Submit after Close was called or after the
// sink failed.
var ErrWriterClosed = errors.New("terminal writer closed")

// Sink is the transport a Writer owns. Each Write call made by the Writer
// carries one complete flushed frame.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error
}

// CommandKind selects what a Command does.
type CommandKind int

const (
	CommandWrite CommandKind = iota
	CommandFlush
)

// Command is one queued output operation.
type Command struct {
	Kind CommandKind
	Data []byte
}

// Writer is the single serialization point for a session's output.
//
// Producers call Write, Flush or Submit; these enqueue and return without
// waiting for transport I/O. A dedicated goroutine applies commands strictly
// in submission order: writes accumulate in a buffer and each flush hands the
// whole buffer to the sink in one call. The queue is unbounded and nothing is
// ever dropped while the writer is open.
type Writer struct {
	sink Sink

	mu     sync.Mutex
	queue  []Command
	closed bool
	err    error
	notify chan struct{} // signaled (non-blocking) when commands are queued

	done chan struct{}
}

// NewWriter starts the drain goroutine for sink.
func NewWriter(sink Sink) *Writer {
	w := &Writer{
		sink:   sink,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.drain()
	return w
}

// Submit enqueues cmd. It fails only if the writer was closed or the sink
// returned an error earlier.
func (w *Writer) Submit(cmd Command) error {
	w.mu.Lock()
	if w.closed {
		err := w.err
		w.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriterClosed, err)
		}
		return ErrWriterClosed
	}
	w.queue = append(w.queue, cmd)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Write enqueues a copy of p. It implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.Submit(Command{Kind: CommandWrite, Data: clone(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString enqueues s.
func (w *Writer) WriteString(s string) (int, error) {
	if err := w.Submit(Command{Kind: CommandWrite, Data: []byte(s)}); err != nil {
		return 0, err
	}
	return len(s), nil
}

// Flush enqueues a flush of everything written so far.
func (w *Writer) Flush() error {
	return w.Submit(Command{Kind: CommandFlush})
}

// Close stops accepting commands. Commands already queued are still
// applied; use Wait to block until they reached the sink.
func (w *Writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until the drain goroutine exited.
func (w *Writer) Wait() {
	<-w.done
}

// Done is closed once the drain goroutine exited.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns the sink error that stopped the writer, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) drain() {
	defer close(w.done)

	var buf []byte
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closed := w.closed
		w.mu.Unlock()

		for _, cmd := range batch {
			switch cmd.Kind {
			case CommandWrite:
				buf = append(buf, cmd.Data...)
			case CommandFlush:
				if err := w.deliver(buf); err != nil {
					w.fail(err)
					return
				}
				buf = buf[:0]
			}
		}

		if len(batch) == 0 && closed {
			return
		}
		if len(batch) == 0 {
			<-w.notify
		}
	}
}

func (w *Writer) deliver(frame []byte) error {
	if len(frame) > 0 {
		if _, err := w.sink.Write(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	if err := w.sink.Flush(); err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	return nil
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
}
