// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/authcore/pkg/errutil"
)

// codePurger removes expired one-time codes.
type codePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// runPurgeLoop purges expired codes once immediately and then every interval
// until ctx is canceled. The returned channel closes when the loop exits.
// observe, when set, receives the count removed by each pass.
func runPurgeLoop(ctx context.Context, p codePurger, interval time.Duration, observe func(int64), logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			n, err := p.PurgeExpired(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				errutil.LogWarnContext(ctx, logger, "purge of expired codes failed", err)
			case n > 0:
				logger.DebugContext(ctx, "purged expired codes", "count", n)
			}
			if observe != nil && n > 0 {
				observe(n)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}
