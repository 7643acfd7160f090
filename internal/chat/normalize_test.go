package chat

import (
	"testing"
)

func TestParseExportStructuredMessages(t *testing.T) {
	payload := []byte(`{
		"messages": [
			{
				"creator": {"name": "Alice", "email": "alice@example.com", "user_type": "Human"},
				"text": "see you at the park",
				"topic_id": "t-1",
				"created_date": "Thursday, September 12, 2013 at 3:50:11 PM UTC",
				"annotations": [{"huge": "payload"}]
			},
			{
				"creator": {"email": "bob@example.com"},
				"text": "on my way",
				"message_id": "m-2"
			}
		]
	}`)
	n := NewNormalizer(nil)
	msgs, err := n.ParseExport(payload)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages got %d", len(msgs))
	}
	if msgs[0].Participant != "Alice" || msgs[0].ParticipantEmail != "alice@example.com" {
		t.Fatalf("unexpected participant: %+v", msgs[0])
	}
	if msgs[0].Timestamp == nil || msgs[0].Timestamp.Format("2006-01-02T15:04:05Z") != "2013-09-12T15:50:11Z" {
		t.Fatalf("unexpected timestamp: %v", msgs[0].Timestamp)
	}
	if msgs[1].Participant != "Unknown" {
		t.Fatalf("missing creator name must default to Unknown, got %q", msgs[1].Participant)
	}
}

func TestParseExportLooseMessages(t *testing.T) {
	payload := []byte(`[
		{"sender": "bob", "message": "lunch tomorrow?", "timestamp": "2023-05-01T12:00:00Z"},
		{"author": "carol", "body": "sure, noon works", "date": 1682942400},
		{"text": "who is this", "time": "not a date"}
	]`)
	n := NewNormalizer(nil)
	msgs, err := n.ParseExport(payload)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages got %d", len(msgs))
	}
	if msgs[0].Participant != "bob" || msgs[0].Content != "lunch tomorrow?" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[0].Timestamp == nil {
		t.Fatalf("expected parsed timestamp")
	}
	if msgs[1].Timestamp == nil {
		t.Fatalf("expected epoch timestamp")
	}
	if msgs[2].Participant != "Unknown" {
		t.Fatalf("missing sender must default to Unknown, got %q", msgs[2].Participant)
	}
	if msgs[2].Timestamp != nil {
		t.Fatalf("unparseable date must degrade to no timestamp, got %v", msgs[2].Timestamp)
	}
}

func TestParseExportConversationsEnvelope(t *testing.T) {
	payload := []byte(`{
		"conversations": [
			{"messages": [{"sender": "a", "content": "first thread"}]},
			{"messages": [{"sender": "b", "content": "second thread"}]}
		]
	}`)
	n := NewNormalizer(nil)
	msgs, err := n.ParseExport(payload)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages got %d", len(msgs))
	}
	if msgs[0].Content != "first thread" || msgs[1].Content != "second thread" {
		t.Fatalf("unexpected contents: %+v", msgs)
	}
}

func TestParseExportNestedFallback(t *testing.T) {
	payload := []byte(`{"export": {"threads": [[{"user": "zed", "msg": "buried deep"}]]}}`)
	n := NewNormalizer(nil)
	msgs, err := n.ParseExport(payload)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "buried deep" || msgs[0].Participant != "zed" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestParseExportMalformedJSON(t *testing.T) {
	n := NewNormalizer(nil)
	if _, err := n.ParseExport([]byte(`{"messages": [`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestParseExportNoMessages(t *testing.T) {
	n := NewNormalizer(nil)
	msgs, err := n.ParseExport([]byte(`{"metadata": {"version": 2}}`))
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages got %d", len(msgs))
	}
}

func TestNormalizeRejectsNonMessages(t *testing.T) {
	n := NewNormalizer(nil)
	if _, ok := n.Normalize(map[string]interface{}{"annotations": "x"}); ok {
		t.Fatalf("annotation-only object must not normalize")
	}
	if _, ok := n.Normalize("just a string"); ok {
		t.Fatalf("scalar must not normalize")
	}
	if _, ok := n.Normalize(map[string]interface{}{"content": "   "}); ok {
		t.Fatalf("whitespace-only content must not normalize")
	}
}
