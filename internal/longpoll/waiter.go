// Package longpoll holds a caller until relevant state changes, a
// timeout elapses or the caller goes away.
package longpoll

import (
	"context"
	"time"
)

// Subscription is the already-open notification stream the wait
// listens on. The caller subscribes before calling Wait and closes the
// subscription afterward, on every exit path.
type Subscription interface {
	Messages() <-chan []byte
}

// Wait - resolves with a state as soon as one is available.
//
// fetch reads the authoritative state; its second return reports
// whether that state already satisfies the caller, which closes the
// check-then-wait race (a change between request arrival and
// subscribing would otherwise be missed). accept filters and decodes
// published payloads; payloads it declines are dropped.
//
// On timeout the state is fetched once more and returned whether or
// not it changed, so a polling client always gets an answer within one
// timeout period. When ctx is cancelled the wait is abandoned and
// ctx.Err() returned.
func Wait[T any](
	ctx context.Context,
	sub Subscription,
	timeout time.Duration,
	accept func(payload []byte) (T, bool),
	fetch func(ctx context.Context) (T, bool, error),
) (T, error) {
	var zero T

	state, resolved, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	if resolved {
		return state, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()

		case payload, ok := <-sub.Messages():
			if !ok {
				// stream ended underneath us; answer with current state
				state, _, err = fetch(ctx)
				return state, err
			}

			if state, ok := accept(payload); ok {
				return state, nil
			}

		case <-timer.C:
			state, _, err = fetch(ctx)
			return state, err
		}
	}
}
