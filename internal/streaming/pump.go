package streaming

import (
	"context"
	"errors"
	"io"
)

const readBufferSize = 32 * 1024

// EmitFunc receives events in arrival order. Returning an error stops the
// pump, for example when the downstream client has gone away.
type EmitFunc func(Event) error

// Pump reads body through n and hands every event to emit until a
// terminal event, an emit failure or ctx cancellation. Cancelling ctx
// closes body at once so no further upstream bytes are requested, and no
// events are emitted after cancellation. Pump always closes body.
func Pump(ctx context.Context, body io.ReadCloser, n Normalizer, emit EmitFunc) error {
	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	defer stop()
	defer func() {
		_ = body.Close()
	}()

	deliver := func(events []Event) (bool, error) {
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return true, err
			}
			if err := emit(ev); err != nil {
				return true, err
			}
			if ev.Terminal() {
				return true, nil
			}
		}
		return false, nil
	}

	buf := make([]byte, readBufferSize)
	for {
		nr, readErr := body.Read(buf)
		if nr > 0 {
			if done, err := deliver(n.Feed(buf[:nr])); done {
				return err
			}
		}
		if readErr == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if errors.Is(readErr, io.EOF) {
			_, err := deliver(n.End())
			return err
		}
		_, err := deliver([]Event{errorEvent("upstream read failed", readErr.Error())})
		return err
	}
}
