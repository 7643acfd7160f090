// Package embedding wraps the LLM provider's embedding endpoint with the
// batching, truncation and retry behaviour large ingestion jobs need.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/recallhq/recall/config"
	"github.com/recallhq/recall/internal/retry"
	"github.com/recallhq/recall/internal/telemetry"
	"github.com/recallhq/recall/provider"
)

const (
	defaultMaxChars  = 8000
	defaultBatchSize = 64
	// batchPacing spaces successful groups apart to stay under provider
	// rate limits.
	batchPacing = 200 * time.Millisecond
)

// batchPolicy protects large ingestion jobs from transient provider hiccups:
// up to 6 re-attempts at 1s * 2^attempt plus up to 250ms of jitter.
var batchPolicy = retry.Policy{MaxRetries: 6, BaseDelay: time.Second, Jitter: 250 * time.Millisecond}

// Client converts text to vectors through a provider.
type Client struct {
	provider  provider.Provider
	logger    *log.Logger
	maxChars  int
	batchSize int
	pacing    time.Duration
}

// NewClient builds an embedding client from ingest configuration.
func NewClient(p provider.Provider, cfg config.IngestConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	maxChars := cfg.MaxEmbedChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Client{
		provider:  p,
		logger:    logger,
		maxChars:  maxChars,
		batchSize: batchSize,
		pacing:    batchPacing,
	}
}

// Embed converts a single text to a vector. Input is truncated to the
// provider's size limit; truncation is preferred over failure since retrieval
// tolerates partial context. Failures are classified but not retried here;
// the caller decides what a retry is worth.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.provider.CreateEmbedding(ctx, []string{c.truncate(text)})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch converts many texts to vectors, preserving input order. Texts
// are split into fixed-size groups; each group is retried with exponential
// backoff before the last error is propagated, and successfully completed
// groups are paced apart.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		group := make([]string, end-start)
		for i, t := range texts[start:end] {
			group[i] = c.truncate(t)
		}

		if start > 0 {
			select {
			case <-time.After(c.pacing):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var vecs [][]float32
		op := func() error {
			telemetry.EmbeddingBatches.Inc()
			resp, err := c.provider.CreateEmbedding(ctx, group)
			if err != nil {
				if errors.Is(err, provider.ErrQuotaExceeded) {
					return retry.Permanent(err)
				}
				return err
			}
			if len(resp) != len(group) {
				return retry.Permanent(fmt.Errorf("embed batch: expected %d vectors, got %d", len(group), len(resp)))
			}
			vecs = resp
			return nil
		}
		notify := func(err error, next time.Duration) {
			telemetry.EmbeddingRetries.Inc()
			c.logger.Printf("warn: embedding batch failed, retrying in %s: %v", next, err)
		}
		if err := batchPolicy.Do(ctx, op, notify); err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// truncate bounds input length; the provider rejects overlong input.
func (c *Client) truncate(text string) string {
	if len(text) <= c.maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= c.maxChars {
		return text
	}
	return string(runes[:c.maxChars])
}
