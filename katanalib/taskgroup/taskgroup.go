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

// Package taskgroup provides the hierarchical cancellation used to run the
// sync pipeline, block producer, RPC server, and indexer under one
// shutdown path: a context-carrying errgroup.Group, the same
// context.Context-plus-error-group shape the teacher's own stage-sync
// driver uses to fan work out and fan errors back in.
package taskgroup

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/katana-sequencer/katana/katanalib/log"
)

// Group runs a set of long-lived tasks under a shared context: the first
// task to return an error (or panic) cancels every sibling task, and Wait
// returns that error.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New builds a Group rooted at parent. Cancelling parent, or any task
// returning an error, tears every task down.
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancel: cancel, eg: eg}
}

// Context returns the group's context; tasks should select on Done() to
// notice sibling failures and shut down promptly.
func (g *Group) Context() context.Context { return g.ctx }

// Go runs fn as a critical task: a panic inside fn is recovered, converted
// to an error, and treated exactly like a returned error would be (it
// still tears the whole group down rather than crashing the process).
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Named(name).Error("task panicked", zap.Any("panic", r))
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()
		if err := fn(g.ctx); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		return nil
	})
}

// Cancel tears the group down without waiting for an error.
func (g *Group) Cancel() { g.cancel() }

// Wait blocks until every task has returned, returning the first error
// (if any).
func (g *Group) Wait() error {
	defer g.cancel()
	return g.eg.Wait()
}
