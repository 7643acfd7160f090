package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestUpsertChunkBatchCountsNewRowsOnly(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)
	records := []ChunkRecord{
		{UserID: "u1", ChunkHash: "aaa", Content: "alice: hi", Participants: []string{"alice"}, StartTime: &start, MessageCount: 1},
		{UserID: "u1", ChunkHash: "bbb", Content: "bob: hey", Participants: []string{"bob"}, MessageCount: 1},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO memory_chunks`))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := s.UpsertChunkBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("UpsertChunkBatch: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected 1 new row got %d", inserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertChunkBatchRejectsInvalidRecords(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO memory_chunks`))
	mock.ExpectRollback()

	_, err := s.UpsertChunkBatch(context.Background(), []ChunkRecord{{UserID: "u1", ChunkHash: "aaa", Content: "   "}})
	if err == nil {
		t.Fatalf("expected error for blank content")
	}
}

func TestListChunksMissingEmbedding(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id=$1 AND embedding IS NULL`)).
		WithArgs("u1", 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}).
			AddRow("c1", "alice: hi").
			AddRow("c2", "bob: hey"))

	out, err := s.ListChunksMissingEmbedding(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListChunksMissingEmbedding: %v", err)
	}
	if len(out) != 2 || out[0].ID != "c1" || out[1].Content != "bob: hey" {
		t.Fatalf("unexpected rows %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetChunkEmbeddingEncodesVector(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE memory_chunks SET embedding=$2::vector WHERE id=$1`)).
		WithArgs("c1", "[0.5,-1,0.25]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetChunkEmbedding(context.Background(), "c1", []float32{0.5, -1, 0.25}); err != nil {
		t.Fatalf("SetChunkEmbedding: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksHybridQuery(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2013, 9, 12, 15, 50, 11, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`WITH lexical AS`)).
		WithArgs("u1", "cabin trip", 5000, "[0.5,0.5]", 0.2, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "participants", "start_time", "end_time", "original_source", "similarity"}).
			AddRow("c1", "alice: cabin booked", "{alice,bob}", start, start, "export.json", 0.91))

	out, err := s.SearchChunks(context.Background(), "u1", "cabin trip", []float32{0.5, 0.5}, 5000, 50, 0.2)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 row got %d", len(out))
	}
	hit := out[0]
	if hit.ChunkID != "c1" || hit.Similarity != 0.91 {
		t.Fatalf("unexpected hit %+v", hit)
	}
	if len(hit.Participants) != 2 || hit.Participants[0] != "alice" {
		t.Fatalf("participants not decoded: %v", hit.Participants)
	}
	if hit.StartTime == nil || !hit.StartTime.Equal(start) {
		t.Fatalf("unexpected start time %v", hit.StartTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksWidensLexicalLimit(t *testing.T) {
	s, mock := newMockStore(t)

	// lexicalLimit below finalK must be widened to finalK.
	mock.ExpectQuery(regexp.QuoteMeta(`WITH lexical AS`)).
		WithArgs("u1", "q", 50, "[1]", 0.2, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "participants", "start_time", "end_time", "original_source", "similarity"}))

	if _, err := s.SearchChunks(context.Background(), "u1", "q", []float32{1}, 10, 50, 0.2); err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCoverage(t *testing.T) {
	s, mock := newMockStore(t)

	earliest := time.Date(2013, 1, 5, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2014, 3, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM memory_chunks`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"least", "greatest", "count"}).AddRow(earliest, latest, 42))

	rec, err := s.Coverage(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if rec.TotalChunks != 42 || rec.Earliest == nil || !rec.Earliest.Equal(earliest) || rec.Latest == nil || !rec.Latest.Equal(latest) {
		t.Fatalf("unexpected coverage %+v", rec)
	}
}

func TestCoverageEmptyCorpus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM memory_chunks`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"least", "greatest", "count"}).AddRow(nil, nil, 0))

	rec, err := s.Coverage(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if rec.TotalChunks != 0 || rec.Earliest != nil || rec.Latest != nil {
		t.Fatalf("unexpected coverage %+v", rec)
	}
}

func TestSearchChatHistoryOverFetchesThenTruncates(t *testing.T) {
	s, mock := newMockStore(t)

	when := time.Date(2013, 9, 12, 15, 50, 11, 0, time.UTC)
	// matchCount=3 widens the candidate window to the 50-row floor.
	mock.ExpectQuery(regexp.QuoteMeta(`WITH nearest AS`)).
		WithArgs("[0.5,0.5]", 50, "u1", 0.2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "participant", "message_time", "similarity"}).
			AddRow("m7", "cabin booked for june", "alice", when, 0.91).
			AddRow("m9", "see you there", "", nil, 0.44))

	out, err := s.SearchChatHistory(context.Background(), "u1", []float32{0.5, 0.5}, 3, 0.2)
	if err != nil {
		t.Fatalf("SearchChatHistory: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows got %d", len(out))
	}
	hit := out[0]
	if hit.MessageID != "m7" || hit.Participant != "alice" || hit.Similarity != 0.91 {
		t.Fatalf("unexpected hit %+v", hit)
	}
	if hit.MessageTime == nil || !hit.MessageTime.Equal(when) {
		t.Fatalf("unexpected message time %v", hit.MessageTime)
	}
	if out[1].MessageTime != nil {
		t.Fatalf("expected nil time for null column, got %v", out[1].MessageTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChatHistoryCandidateWindow(t *testing.T) {
	s, mock := newMockStore(t)

	// Above the floor the window is ten times the match count.
	mock.ExpectQuery(regexp.QuoteMeta(`WITH nearest AS`)).
		WithArgs("[1]", 100, "u1", 0.2, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "participant", "message_time", "similarity"}))

	if _, err := s.SearchChatHistory(context.Background(), "u1", []float32{1}, 10, 0.2); err != nil {
		t.Fatalf("SearchChatHistory: %v", err)
	}

	// A non-positive match count falls back to 5 matches over 50 candidates.
	mock.ExpectQuery(regexp.QuoteMeta(`WITH nearest AS`)).
		WithArgs("[1]", 50, "u1", 0.2, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "participant", "message_time", "similarity"}))

	if _, err := s.SearchChatHistory(context.Background(), "u1", []float32{1}, 0, 0.2); err != nil {
		t.Fatalf("SearchChatHistory: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChatHistoryRejectsEmptyVector(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.SearchChatHistory(context.Background(), "u1", nil, 5, 0.2); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}

func TestFindChatHistoryDuplicateShortCircuits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`external_id=$2`)).
		WithArgs("u1", "ext-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	dup, err := s.FindChatHistoryDuplicate(context.Background(), "u1", "ext-1", "topic-1", "hello")
	if err != nil {
		t.Fatalf("FindChatHistoryDuplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindChatHistoryDuplicateSkipsEmptyProbes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`content=$2`)).
		WithArgs("u1", "hello").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	dup, err := s.FindChatHistoryDuplicate(context.Background(), "u1", "", "", "hello")
	if err != nil {
		t.Fatalf("FindChatHistoryDuplicate: %v", err)
	}
	if dup {
		t.Fatalf("expected no duplicate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChatHistoryReturnsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO chat_history`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("msg-1"))

	id, err := s.InsertChatHistory(context.Background(), ChatHistoryRecord{UserID: "u1", Content: "hello"})
	if err != nil {
		t.Fatalf("InsertChatHistory: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	got, err := encodeVectorLiteral([]float32{1, -0.5, 0.25})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if got != "[1,-0.5,0.25]" {
		t.Fatalf("unexpected literal %q", got)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}
