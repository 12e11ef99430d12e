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

// Package log installs the process-wide structured logger. Every package in
// this repository logs through the package-level functions here rather than
// carrying its own *zap.Logger field, the same global-logger convention
// Erigon's own log package follows.
package log

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	root  atomic.Pointer[zap.Logger]
	setup sync.Once
)

func init() {
	setup.Do(func() {
		root.Store(zap.NewNop())
	})
}

// Config controls the root logger's encoding and level. The zero value
// produces console-encoded, info-level output to stderr.
type Config struct {
	JSON   bool
	Level  zapcore.Level
	Output *os.File
}

// Init replaces the process-wide logger. Called exactly once at process
// startup (cmd/katana/main.go); safe to call again in tests that need a
// different verbosity.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(out), cfg.Level)
	root.Store(zap.New(core, zap.AddCaller()))
}

// L returns the current root logger. Never nil.
func L() *zap.Logger { return root.Load() }

// Named returns a child logger scoped to component, e.g. log.Named("txpool").
func Named(component string) *zap.Logger { return L().Named(component) }

// Sync flushes any buffered log entries; call from main's deferred shutdown.
func Sync() {
	_ = L().Sync()
}
