// Package ingest drives the upload pipeline: normalize, chunk, hash,
// upsert-by-hash, then backfill embeddings page by page. The design is
// re-entrant: any chunk row without an embedding is still "missing work" on
// the next run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/recallhq/recall/config"
	"github.com/recallhq/recall/internal/chat"
	"github.com/recallhq/recall/internal/retry"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/internal/telemetry"
)

// ErrNoMessages marks an upload with zero extractable messages. Rejected
// before any store write.
var ErrNoMessages = errors.New("no messages found in upload")

// legacyPolicy guards each step of the discrete-message path.
var legacyPolicy = retry.Policy{MaxRetries: 3, BaseDelay: time.Second}

type chunkStore interface {
	UpsertChunkBatch(ctx context.Context, records []store.ChunkRecord) (int64, error)
	ListChunksMissingEmbedding(ctx context.Context, userID string, limit int) ([]store.ChunkRecord, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, vector []float32) error
	FindChatHistoryDuplicate(ctx context.Context, userID, externalID, topicID, content string) (bool, error)
	InsertChatHistory(ctx context.Context, rec store.ChatHistoryRecord) (string, error)
	InsertChatHistoryEmbedding(ctx context.Context, messageID string, vector []float32) error
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result reports what an ingestion run changed.
type Result struct {
	Inserted int64 `json:"inserted"`
	Embedded int64 `json:"embedded"`
}

// Orchestrator coordinates the ingestion pipeline against the store and the
// embedding client.
type Orchestrator struct {
	store      chunkStore
	embedder   embedder
	normalizer *chat.Normalizer
	cfg        config.IngestConfig
	logger     *log.Logger
}

// NewOrchestrator builds an ingestion orchestrator.
func NewOrchestrator(st chunkStore, emb embedder, cfg config.IngestConfig, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 400
	}
	if cfg.EmbedPageSize <= 0 {
		cfg.EmbedPageSize = 1000
	}
	return &Orchestrator{
		store:      st,
		embedder:   emb,
		normalizer: chat.NewNormalizer(logger),
		cfg:        cfg,
		logger:     logger,
	}
}

// ProcessUpload parses an uploaded chat export, windows it into chunks and
// ingests them. Malformed JSON and exports with zero extractable messages
// are rejected before anything is written.
func (o *Orchestrator) ProcessUpload(ctx context.Context, userID string, payload []byte, sourceLabel string) (Result, error) {
	messages, err := o.normalizer.ParseExport(payload)
	if err != nil {
		return Result{}, err
	}
	if len(messages) == 0 {
		return Result{}, ErrNoMessages
	}
	chunks := chat.Window(messages, chat.WindowOptions{})
	if len(chunks) == 0 {
		return Result{}, ErrNoMessages
	}
	o.logger.Printf("upload for user %s: %d messages -> %d chunks", userID, len(messages), len(chunks))
	return o.Ingest(ctx, userID, chunks, sourceLabel)
}

// Ingest runs the two-phase pipeline: upsert chunk rows by hash in bounded
// batches, then page through rows lacking an embedding until none remain.
func (o *Orchestrator) Ingest(ctx context.Context, userID string, chunks []chat.Chunk, sourceLabel string) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("user id required")
	}

	var res Result

	// Phase 1: upsert-by-hash. A hash conflict means the chunk is already
	// present; re-ingesting an identical export is a no-op.
	records := make([]store.ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, store.ChunkRecord{
			UserID:            userID,
			ChunkHash:         c.Hash(),
			Content:           c.Content,
			Participants:      c.Participants,
			ParticipantEmails: c.ParticipantEmails,
			StartTime:         c.StartTime,
			EndTime:           c.EndTime,
			MessageCount:      c.MessageCount,
			OriginalSource:    sourceLabel,
		})
	}
	for start := 0; start < len(records); start += o.cfg.UpsertBatchSize {
		end := start + o.cfg.UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		inserted, err := o.store.UpsertChunkBatch(ctx, records[start:end])
		if err != nil {
			return res, fmt.Errorf("upsert chunks: %w", err)
		}
		res.Inserted += inserted
	}
	telemetry.ChunksUpserted.Add(float64(res.Inserted))
	if skipped := int64(len(records)) - res.Inserted; skipped > 0 {
		telemetry.DuplicatesSkipped.Add(float64(skipped))
	}

	// Phase 2: embed-missing. Page until the store returns nothing; this
	// also resumes cleanly after an interrupted earlier run.
	for {
		page, err := o.store.ListChunksMissingEmbedding(ctx, userID, o.cfg.EmbedPageSize)
		if err != nil {
			return res, fmt.Errorf("list chunks missing embedding: %w", err)
		}
		if len(page) == 0 {
			break
		}
		texts := make([]string, len(page))
		for i, rec := range page {
			texts[i] = rec.Content
		}
		vectors, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embed chunk page: %w", err)
		}
		if len(vectors) != len(page) {
			return res, fmt.Errorf("embed chunk page: expected %d vectors, got %d", len(page), len(vectors))
		}
		for i, rec := range page {
			if err := o.store.SetChunkEmbedding(ctx, rec.ID, vectors[i]); err != nil {
				return res, fmt.Errorf("store embedding for chunk %s: %w", rec.ID, err)
			}
			res.Embedded++
		}
	}
	telemetry.ChunksEmbedded.Add(float64(res.Embedded))

	o.logger.Printf("ingest for user %s: %d inserted, %d embedded", userID, res.Inserted, res.Embedded)
	return res, nil
}

// EntryError is a structured failure value for the discrete-message path. It
// is returned, not raised, so a batch driver can tally failures across many
// records without aborting.
type EntryError struct {
	Message string
	Cause   error
}

func (e *EntryError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *EntryError) Unwrap() error { return e.Cause }

// EntryOutcome reports what happened to one discrete chat-history record.
type EntryOutcome struct {
	MessageID string
	Skipped   bool
	Err       *EntryError
}

// EmbedChatHistoryEntry ingests one discrete (non-chunked) chat-history
// record: duplicate check, insert, embed, store vector. Each store/provider
// step runs under its own retry. Duplicates are skipped, not errors.
func (o *Orchestrator) EmbedChatHistoryEntry(ctx context.Context, rec store.ChatHistoryRecord) EntryOutcome {
	duplicate, err := o.store.FindChatHistoryDuplicate(ctx, rec.UserID, rec.ExternalID, rec.TopicID, rec.Content)
	if err != nil {
		// A failed probe counts as "not duplicate".
		o.logger.Printf("warn: duplicate check failed, proceeding with insert: %v", err)
	}
	if duplicate {
		telemetry.DuplicatesSkipped.Inc()
		o.logger.Printf("skipping duplicate chat history entry for user %s", rec.UserID)
		return EntryOutcome{Skipped: true}
	}

	var messageID string
	if err := legacyPolicy.Do(ctx, func() error {
		id, err := o.store.InsertChatHistory(ctx, rec)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	}, nil); err != nil {
		return EntryOutcome{Err: &EntryError{Message: "insert chat history row", Cause: err}}
	}

	var vector []float32
	if err := legacyPolicy.Do(ctx, func() error {
		vec, err := o.embedder.Embed(ctx, rec.Content)
		if err != nil {
			return err
		}
		vector = vec
		return nil
	}, nil); err != nil {
		return EntryOutcome{MessageID: messageID, Err: &EntryError{Message: "generate embedding", Cause: err}}
	}

	if err := legacyPolicy.Do(ctx, func() error {
		return o.store.InsertChatHistoryEmbedding(ctx, messageID, vector)
	}, nil); err != nil {
		return EntryOutcome{MessageID: messageID, Err: &EntryError{Message: "insert embedding row", Cause: err}}
	}

	return EntryOutcome{MessageID: messageID}
}
