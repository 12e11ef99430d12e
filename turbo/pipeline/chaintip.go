// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/katana-sequencer/katana/katanalib/log"
)

// ChainTipWatcher polls the gateway's latest block number and exposes it as
// a watch handle (spec.md §4.7). Transport failures back off exponentially
// (1s to 60s, per spec.md §5's Gateway::Transport policy) and are never
// fatal to the pipeline.
type ChainTipWatcher struct {
	gateway  Gateway
	interval time.Duration
	tip      atomic.Uint64
	log      *zap.Logger
}

func NewChainTipWatcher(gateway Gateway, interval time.Duration) *ChainTipWatcher {
	return &ChainTipWatcher{gateway: gateway, interval: interval, log: log.Named("chain-tip-watcher")}
}

// Tip returns the most recently observed remote block number. Zero before
// the first successful poll.
func (w *ChainTipWatcher) Tip() uint64 { return w.tip.Load() }

func (w *ChainTipWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var n uint64
			err := retryWithBackoff(ctx, w.log, func() error {
				var err error
				n, err = w.gateway.LatestBlockNumber(ctx)
				return err
			})
			if err != nil {
				continue // ctx cancelled mid-backoff; outer select notices on next iteration
			}
			w.tip.Store(n)
		}
	}
}
