// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package broadcast delivers a message to many chats, pacing sends to stay
// under Telegram flood limits.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.astrophena.name/wallbot/internal/logger"
)

// Sender delivers the broadcast message to a single chat.
type Sender func(ctx context.Context, chatID int64) error

// Result summarizes one broadcast run.
type Result struct {
	Sent   int
	Failed int
	// Errors maps chat IDs to the error that failed their delivery.
	Errors map[int64]error
}

// Broadcaster sends a message to many chats.
//
// All fields of Broadcaster can't be modified after the first call to Send.
type Broadcaster struct {
	// Delay is the pause between consecutive sends. If zero, sends are
	// not paced.
	Delay time.Duration
	// Concurrency is the maximum number of in-flight sends. If zero, 3
	// is used.
	Concurrency int
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf
}

// Send delivers the message to every chat in ids. Individual delivery
// failures are recorded in the result and don't stop the broadcast;
// cancellation of ctx does.
func (b *Broadcaster) Send(ctx context.Context, ids []int64, send Sender) Result {
	logf := b.Logf
	if logf == nil {
		logf = log.Printf
	}
	concurrency := b.Concurrency
	if concurrency == 0 {
		concurrency = 3
	}

	var (
		mu  sync.Mutex
		res = Result{Errors: make(map[int64]error)}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

loop:
	for i, id := range ids {
		if i > 0 && b.Delay > 0 {
			select {
			case <-time.After(b.Delay):
			case <-ctx.Done():
				break loop
			}
		}
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		g.Go(func() error {
			if err := send(ctx, id); err != nil {
				logf("broadcast: sending to %d: %v", id, err)
				mu.Lock()
				res.Failed++
				res.Errors[id] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			res.Sent++
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return res
}
