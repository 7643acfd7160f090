// Package store is the Postgres persistence layer: per-user chunk corpora
// with pgvector embeddings, the legacy discrete chat-history tables, and the
// declarative queries the retrieval subsystem consumes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic
// vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// ChunkRecord represents one retrieval chunk row owned by a user corpus.
// Embedding is nil until computed by the ingestion orchestrator.
type ChunkRecord struct {
	ID                string
	UserID            string
	ChunkHash         string
	Content           string
	Participants      []string
	ParticipantEmails []string
	StartTime         *time.Time
	EndTime           *time.Time
	MessageCount      int
	OriginalSource    string
	CreatedAt         time.Time
}

// ChunkSearchResult is a hybrid-search hit over the chunk corpus.
type ChunkSearchResult struct {
	ChunkID        string
	Content        string
	Participants   []string
	StartTime      *time.Time
	EndTime        *time.Time
	OriginalSource string
	Similarity     float64
}

// CoverageRecord summarizes how much of a user's history has been ingested.
type CoverageRecord struct {
	Earliest    *time.Time
	Latest      *time.Time
	TotalChunks int64
}

// ChatHistoryRecord is one row of the legacy non-chunked chat-history table.
type ChatHistoryRecord struct {
	ID               string
	UserID           string
	ExternalID       string
	TopicID          string
	Participant      string
	ParticipantEmail string
	Content          string
	MessageTime      *time.Time
	CreatedAt        time.Time
}

// ChatHistorySearchResult is a vector-search hit over the legacy table.
type ChatHistorySearchResult struct {
	MessageID   string
	Content     string
	Participant string
	MessageTime *time.Time
	Similarity  float64
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// UpsertChunkBatch writes chunk rows keyed by (user_id, chunk_hash). A
// conflict means the chunk is already present and is not an error; the
// returned count covers first-time rows only.
func (s *Store) UpsertChunkBatch(ctx context.Context, records []ChunkRecord) (inserted int64, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO memory_chunks (user_id, chunk_hash, content, participants, participant_emails, start_time, end_time, message_count, original_source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (user_id, chunk_hash) DO NOTHING
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.UserID == "" {
			return inserted, fmt.Errorf("user_id required")
		}
		if rec.ChunkHash == "" {
			return inserted, fmt.Errorf("chunk_hash required")
		}
		if strings.TrimSpace(rec.Content) == "" {
			return inserted, fmt.Errorf("chunk content required")
		}
		res, err := stmt.ExecContext(ctx,
			rec.UserID, rec.ChunkHash, rec.Content,
			pq.Array(rec.Participants), pq.Array(rec.ParticipantEmails),
			nullableTime(rec.StartTime), nullableTime(rec.EndTime),
			rec.MessageCount, rec.OriginalSource)
		if err != nil {
			return inserted, err
		}
		if rows, err := res.RowsAffected(); err == nil {
			inserted += rows
		}
	}
	return inserted, nil
}

// ListChunksMissingEmbedding pages through rows for a user that still lack a
// vector. An empty result means the embed-missing phase is done.
func (s *Store) ListChunksMissingEmbedding(ctx context.Context, userID string, limit int) ([]ChunkRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id required")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content
FROM memory_chunks
WHERE user_id=$1 AND embedding IS NULL
ORDER BY created_at ASC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(&rec.ID, &rec.Content); err != nil {
			return nil, err
		}
		rec.UserID = userID
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetChunkEmbedding attaches the computed vector to one chunk row.
func (s *Store) SetChunkEmbedding(ctx context.Context, chunkID string, vector []float32) error {
	if chunkID == "" {
		return fmt.Errorf("chunk id required")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE memory_chunks SET embedding=$2::vector WHERE id=$1`, chunkID, vecLiteral)
	return err
}

// SearchChunks runs the two-stage hybrid query: a lexical pre-filter selects
// the top-N chunks by full-text rank over the user's corpus, then the
// candidate set is re-ranked by cosine similarity against the query vector,
// thresholded and truncated to the final K.
func (s *Store) SearchChunks(ctx context.Context, userID, query string, vector []float32, lexicalLimit, finalK int, threshold float64) ([]ChunkSearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if finalK <= 0 {
		finalK = 50
	}
	if lexicalLimit < finalK {
		lexicalLimit = finalK
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
WITH lexical AS (
  SELECT id, content, participants, start_time, end_time, original_source, embedding
  FROM memory_chunks
  WHERE user_id = $1
    AND embedding IS NOT NULL
    AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
  ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) DESC
  LIMIT $3
)
SELECT id, content, participants, start_time, end_time, original_source,
       1 - (embedding <=> $4::vector) AS similarity
FROM lexical
WHERE 1 - (embedding <=> $4::vector) > $5
ORDER BY embedding <=> $4::vector
LIMIT $6
`, userID, query, lexicalLimit, vecLiteral, threshold, finalK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res          ChunkSearchResult
			participants pq.StringArray
			start, end   sql.NullTime
		)
		if err := rows.Scan(&res.ChunkID, &res.Content, &participants, &start, &end, &res.OriginalSource, &res.Similarity); err != nil {
			return nil, err
		}
		res.Participants = []string(participants)
		res.StartTime = timePtr(start)
		res.EndTime = timePtr(end)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Coverage computes the corpus time range and chunk count for a user.
// Earliest/latest are taken over start and end times independently since a
// chunk may carry only one of them.
func (s *Store) Coverage(ctx context.Context, userID string) (CoverageRecord, error) {
	if userID == "" {
		return CoverageRecord{}, fmt.Errorf("user_id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT LEAST(MIN(start_time), MIN(end_time)),
       GREATEST(MAX(end_time), MAX(start_time)),
       COUNT(*)
FROM memory_chunks
WHERE user_id=$1
`, userID)
	var (
		earliest sql.NullTime
		latest   sql.NullTime
		rec      CoverageRecord
	)
	if err := row.Scan(&earliest, &latest, &rec.TotalChunks); err != nil {
		return CoverageRecord{}, err
	}
	rec.Earliest = timePtr(earliest)
	rec.Latest = timePtr(latest)
	return rec, nil
}

// Legacy chat-history operations (discrete, non-chunked records).

// FindChatHistoryDuplicate runs the three-tier duplicate probes against the
// legacy table: external message id, then topic id, then identical content.
// The first match short-circuits.
func (s *Store) FindChatHistoryDuplicate(ctx context.Context, userID, externalID, topicID, content string) (bool, error) {
	probes := []struct {
		query string
		arg   string
	}{
		{`SELECT 1 FROM chat_history WHERE user_id=$1 AND external_id=$2 LIMIT 1`, externalID},
		{`SELECT 1 FROM chat_history WHERE user_id=$1 AND topic_id=$2 LIMIT 1`, topicID},
		{`SELECT 1 FROM chat_history WHERE user_id=$1 AND content=$2 LIMIT 1`, content},
	}
	for _, probe := range probes {
		if probe.arg == "" {
			continue
		}
		var exists int
		err := s.DB.QueryRowContext(ctx, probe.query, userID, probe.arg).Scan(&exists)
		switch err {
		case nil:
			return true, nil
		case sql.ErrNoRows:
			continue
		default:
			return false, err
		}
	}
	return false, nil
}

// InsertChatHistory stores one legacy message row and returns its id.
func (s *Store) InsertChatHistory(ctx context.Context, rec ChatHistoryRecord) (string, error) {
	if rec.UserID == "" {
		return "", fmt.Errorf("user_id required")
	}
	if strings.TrimSpace(rec.Content) == "" {
		return "", fmt.Errorf("content required")
	}
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_history (user_id, external_id, topic_id, participant, participant_email, content, message_time, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id
`, rec.UserID, nullableString(rec.ExternalID), nullableString(rec.TopicID),
		nullableString(rec.Participant), nullableString(rec.ParticipantEmail),
		rec.Content, nullableTime(rec.MessageTime)).Scan(&id)
	return id, err
}

// InsertChatHistoryEmbedding stores the vector for a legacy message row.
func (s *Store) InsertChatHistoryEmbedding(ctx context.Context, messageID string, vector []float32) error {
	if messageID == "" {
		return fmt.Errorf("message id required")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO chat_history_embeddings (message_id, embedding, created_at)
VALUES ($1,$2::vector,NOW())
ON CONFLICT (message_id) DO UPDATE SET
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`, messageID, vecLiteral)
	return err
}

// SearchChatHistory is the single-table variant for the legacy schema: it
// over-fetches nearest neighbours by vector distance first, then filters by
// similarity threshold and ownership, then truncates to matchCount.
func (s *Store) SearchChatHistory(ctx context.Context, userID string, vector []float32, matchCount int, threshold float64) ([]ChatHistorySearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if matchCount <= 0 {
		matchCount = 5
	}
	overFetch := matchCount * 10
	if overFetch < 50 {
		overFetch = 50
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
WITH nearest AS (
  SELECT h.id, h.user_id, h.content, h.participant, h.message_time,
         1 - (e.embedding <=> $1::vector) AS similarity
  FROM chat_history_embeddings e
  JOIN chat_history h ON h.id = e.message_id
  ORDER BY e.embedding <=> $1::vector
  LIMIT $2
)
SELECT id, content, COALESCE(participant,''), message_time, similarity
FROM nearest
WHERE user_id = $3 AND similarity > $4
ORDER BY similarity DESC
LIMIT $5
`, vecLiteral, overFetch, userID, threshold, matchCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatHistorySearchResult
	for rows.Next() {
		var (
			res         ChatHistorySearchResult
			messageTime sql.NullTime
		)
		if err := rows.Scan(&res.MessageID, &res.Content, &res.Participant, &messageTime, &res.Similarity); err != nil {
			return nil, err
		}
		res.MessageTime = timePtr(messageTime)
		results = append(results, res)
	}
	return results, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}
