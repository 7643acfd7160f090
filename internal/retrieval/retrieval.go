// Package retrieval answers "what did we talk about" queries: it embeds the
// query, runs the hybrid lexical+vector search, and renders the hits into a
// prompt-ready context block alongside corpus coverage.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/config"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/internal/telemetry"
)

type searchStore interface {
	SearchChunks(ctx context.Context, userID, query string, vector []float32, lexicalLimit, finalK int, threshold float64) ([]store.ChunkSearchResult, error)
	Coverage(ctx context.Context, userID string) (store.CoverageRecord, error)
	SearchChatHistory(ctx context.Context, userID string, vector []float32, matchCount int, threshold float64) ([]store.ChatHistorySearchResult, error)
}

type queryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs hybrid search over ingested chunks.
type Retriever struct {
	store    searchStore
	embedder queryEmbedder
	cfg      config.RetrievalConfig
	logger   *log.Logger
}

// NewRetriever builds a retriever with the given search policy.
func NewRetriever(st searchStore, emb queryEmbedder, cfg config.RetrievalConfig, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	if cfg.LexicalLimit <= 0 {
		cfg.LexicalLimit = 5000
	}
	if cfg.FinalK <= 0 {
		cfg.FinalK = 50
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.2
	}
	return &Retriever{store: st, embedder: emb, cfg: cfg, logger: logger}
}

// Search embeds the query and runs the hybrid pipeline: lexical prefilter,
// cosine re-rank, similarity floor. Results come back ordered by similarity.
func (r *Retriever) Search(ctx context.Context, userID, query string) ([]store.ChunkSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	start := time.Now()
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.store.SearchChunks(ctx, userID, query, vector, r.cfg.LexicalLimit, r.cfg.FinalK, r.cfg.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	telemetry.Searches.Inc()
	telemetry.SearchDuration.Observe(time.Since(start).Seconds())
	r.logger.Printf("query for user %s matched %d chunks in %s", userID, len(results), time.Since(start).Round(time.Millisecond))
	return results, nil
}

// SearchChatHistory runs the pure-vector search over the discrete
// chat-history table.
func (r *Retriever) SearchChatHistory(ctx context.Context, userID, query string) ([]store.ChatHistorySearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.store.SearchChatHistory(ctx, userID, vector, r.cfg.LegacyMatchCount, r.cfg.SimilarityThreshold)
}

// Coverage reports the ingested span for a user.
func (r *Retriever) Coverage(ctx context.Context, userID string) (store.CoverageRecord, error) {
	return r.store.Coverage(ctx, userID)
}

// Retrieve runs coverage and search concurrently and renders both into a
// single context block ready to prepend to an LLM prompt. The raw matches
// are returned alongside so callers can surface them.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string) (string, []store.ChunkSearchResult, error) {
	var (
		results  []store.ChunkSearchResult
		coverage store.CoverageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.Search(gctx, userID, query)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	g.Go(func() error {
		cov, err := r.Coverage(gctx, userID)
		if err != nil {
			return err
		}
		coverage = cov
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	return FormatContext(coverage, results), results, nil
}

// FormatContext renders coverage plus search hits as the memory block handed
// to the model. Empty result sets still carry the coverage line so the model
// knows what span it is (not) seeing.
func FormatContext(coverage store.CoverageRecord, results []store.ChunkSearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chat history coverage: %d conversation chunks from %s to %s.\n\n",
		coverage.TotalChunks, formatDate(coverage.Earliest), formatDate(coverage.Latest))
	if len(results) == 0 {
		b.WriteString("No relevant chat history found.")
		return b.String()
	}
	b.WriteString("Relevant chat history:\n\n")
	blocks := make([]string, 0, len(results))
	for i, res := range results {
		blocks = append(blocks, fmt.Sprintf("[%d] %s (%s) [%.0f%% match]:\n%s",
			i+1,
			formatParticipants(res.Participants),
			formatDate(res.StartTime),
			res.Similarity*100,
			res.Content))
	}
	b.WriteString(strings.Join(blocks, "\n\n"))
	return b.String()
}

func formatParticipants(participants []string) string {
	if len(participants) == 0 {
		return "Unknown"
	}
	return strings.Join(participants, ", ")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format("January 2, 2006")
}
