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

// Package metrics registers the process's Prometheus collectors, the same
// client_golang-based approach Erigon uses for its own chaindata/sync
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// Handler serves the registry over HTTP for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

var factory = promauto.With(registry)

var (
	// TxPoolSize tracks pending/queued tx counts (C5).
	TxPoolSize = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "katana",
		Subsystem: "txpool",
		Name:      "size",
	}, []string{"status"})

	// BlockProductionSeconds measures wall-clock time spent producing a
	// block, from mempool drain to trie commit (C6).
	BlockProductionSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "katana",
		Subsystem: "producer",
		Name:      "block_production_seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// BlocksProduced counts blocks produced, labeled by trigger mode.
	BlocksProduced = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "katana",
		Subsystem: "producer",
		Name:      "blocks_produced_total",
	}, []string{"mode"})

	// IndexerLagBlocks is chain head minus indexer head (C9).
	IndexerLagBlocks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "katana",
		Subsystem: "indexer",
		Name:      "lag_blocks",
	})

	// PipelineStageHeight is the checkpoint of each sync stage (C7).
	PipelineStageHeight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "katana",
		Subsystem: "pipeline",
		Name:      "stage_height",
	}, []string{"stage"})

	// KVTableEntries mirrors Env.Stats() per table, for operational
	// dashboards on top of the C1 KV store.
	KVTableEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "katana",
		Subsystem: "kv",
		Name:      "table_entries",
	}, []string{"table"})

	// SubscriptionClients counts live WebSocket/gRPC subscribers (C10).
	SubscriptionClients = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "katana",
		Subsystem: "subscription",
		Name:      "clients",
	}, []string{"kind"})
)
