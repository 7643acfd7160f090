// Package telemetry exposes prometheus collectors for the ingestion and
// retrieval pipeline. Metrics are served by the HTTP server on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksUpserted counts chunk rows written first-time by ingestion runs.
	ChunksUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_chunks_upserted_total",
		Help: "Chunk rows inserted first-time by ingestion runs.",
	})

	// ChunksEmbedded counts chunk rows that received an embedding vector.
	ChunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_chunks_embedded_total",
		Help: "Chunk rows backfilled with an embedding vector.",
	})

	// DuplicatesSkipped counts inputs dropped by deduplication.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_duplicates_skipped_total",
		Help: "Ingestion inputs skipped as already present.",
	})

	// EmbeddingBatches counts provider batch calls on the batch path.
	EmbeddingBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_embedding_batches_total",
		Help: "Embedding provider batch requests issued.",
	})

	// EmbeddingRetries counts retried provider batch calls.
	EmbeddingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_embedding_retries_total",
		Help: "Embedding provider batch requests retried after failure.",
	})

	// Searches counts hybrid search executions.
	Searches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recall_searches_total",
		Help: "Hybrid search queries executed.",
	})

	// SearchDuration observes end-to-end hybrid search latency.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recall_search_duration_seconds",
		Help:    "Hybrid search latency including query embedding.",
		Buckets: prometheus.DefBuckets,
	})
)
