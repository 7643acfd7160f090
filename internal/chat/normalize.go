package chat

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// The normalizer accepts the export shapes seen in the wild, in priority
// order: {"messages": [...]}, a bare array, {"conversations": [{"messages":
// [...]}]}, and finally a recursive walk of arbitrarily nested containers
// that recovers any message-shaped leaf.

// Normalizer maps heterogeneous chat-export records into CanonicalMessages.
type Normalizer struct {
	logger *log.Logger
}

// NewNormalizer builds a normalizer. A nil logger gets a prefixed default.
func NewNormalizer(logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[NORMALIZE] ", log.LstdFlags)
	}
	return &Normalizer{logger: logger}
}

// Alternative field names probed by the loose extractor, in priority order.
var (
	contentKeys     = []string{"content", "message", "text", "body", "msg"}
	participantKeys = []string{"participant", "sender", "author", "from", "user", "name", "username"}
	timestampKeys   = []string{"timestamp", "date", "time", "created_at", "sent_at", "datetime"}
)

// ParseExport decodes an uploaded JSON document and extracts every message it
// contains. Returns an error for unparseable JSON; an export with zero
// extractable messages yields an empty slice, which callers must reject
// before any store write.
func (n *Normalizer) ParseExport(data []byte) ([]CanonicalMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse chat export: %w", err)
	}
	doc = stripAnnotations(doc)

	if obj, ok := doc.(map[string]interface{}); ok {
		if msgs, ok := obj["messages"].([]interface{}); ok {
			return n.fromRecords(msgs), nil
		}
		if convs, ok := obj["conversations"].([]interface{}); ok {
			var out []CanonicalMessage
			for _, c := range convs {
				conv, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				if msgs, ok := conv["messages"].([]interface{}); ok {
					out = append(out, n.fromRecords(msgs)...)
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}
	if arr, ok := doc.([]interface{}); ok {
		if msgs := n.fromRecords(arr); len(msgs) > 0 {
			return msgs, nil
		}
	}

	// Unrecognized top-level shape: walk everything.
	return n.extractNested(doc), nil
}

func (n *Normalizer) fromRecords(records []interface{}) []CanonicalMessage {
	var out []CanonicalMessage
	for _, rec := range records {
		if msg, ok := n.Normalize(rec); ok {
			out = append(out, msg)
		} else {
			out = append(out, n.extractNested(rec)...)
		}
	}
	return out
}

// extractNested recursively walks arrays-of-arrays and objects-of-objects to
// recover message-shaped leaves.
func (n *Normalizer) extractNested(v interface{}) []CanonicalMessage {
	var out []CanonicalMessage
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			out = append(out, n.extractNested(item)...)
		}
	case map[string]interface{}:
		if msg, ok := n.Normalize(t); ok {
			return []CanonicalMessage{msg}
		}
		for _, item := range t {
			out = append(out, n.extractNested(item)...)
		}
	}
	return out
}

// shape pairs a predicate with its extractor; shapes are tried in order and
// the first match wins.
type shape struct {
	matches func(map[string]interface{}) bool
	extract func(*Normalizer, map[string]interface{}) (CanonicalMessage, bool)
}

var messageShapes = []shape{
	{matches: isStructuredMessage, extract: (*Normalizer).extractStructured},
	{matches: isLooseMessage, extract: (*Normalizer).extractLoose},
}

// Normalize maps one raw record of unknown shape into a CanonicalMessage.
// The second return value is false when the record is not a message.
func (n *Normalizer) Normalize(v interface{}) (CanonicalMessage, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return CanonicalMessage{}, false
	}
	for _, s := range messageShapes {
		if !s.matches(obj) {
			continue
		}
		msg, ok := s.extract(n, obj)
		if !ok {
			return CanonicalMessage{}, false
		}
		if strings.TrimSpace(msg.Content) == "" {
			return CanonicalMessage{}, false
		}
		return msg, true
	}
	return CanonicalMessage{}, false
}

// isStructuredMessage recognizes the high-confidence export shape: an
// explicit creator object plus a text field and topic/message identifiers.
func isStructuredMessage(obj map[string]interface{}) bool {
	_, hasCreator := obj["creator"].(map[string]interface{})
	_, hasText := obj["text"].(string)
	_, hasTopic := obj["topic_id"]
	_, hasMessage := obj["message_id"]
	return hasCreator && hasText && (hasTopic || hasMessage)
}

func (n *Normalizer) extractStructured(obj map[string]interface{}) (CanonicalMessage, bool) {
	creator := obj["creator"].(map[string]interface{})
	msg := CanonicalMessage{
		Content:          obj["text"].(string),
		Participant:      stringField(creator, "name"),
		ParticipantEmail: stringField(creator, "email"),
	}
	if msg.Participant == "" {
		msg.Participant = "Unknown"
	}
	// user_type defaults to "Human"; only the identity fields are carried.
	msg.Timestamp = n.lookupTimestamp(obj, append([]string{"created_date"}, timestampKeys...))
	return msg, true
}

// isLooseMessage accepts any object exposing a recognizable content field.
func isLooseMessage(obj map[string]interface{}) bool {
	for _, key := range contentKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			return true
		}
	}
	return false
}

func (n *Normalizer) extractLoose(obj map[string]interface{}) (CanonicalMessage, bool) {
	var msg CanonicalMessage
	for _, key := range contentKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			msg.Content = s
			break
		}
	}
	if msg.Content == "" {
		return CanonicalMessage{}, false
	}
	for _, key := range participantKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			msg.Participant = s
			break
		}
	}
	if msg.Participant == "" {
		msg.Participant = "Unknown"
	}
	msg.Timestamp = n.lookupTimestamp(obj, timestampKeys)
	return msg, true
}

// lookupTimestamp probes the candidate keys and parses the first present
// value. Unparseable dates degrade to "no timestamp", never a failure.
func (n *Normalizer) lookupTimestamp(obj map[string]interface{}, keys []string) *time.Time {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if t, ok := ParseTimestamp(v); ok {
				return &t
			}
			n.logger.Printf("warn: unparseable timestamp %q, keeping message without one", v)
			return nil
		case float64:
			if t, ok := parseEpoch(v); ok {
				return &t
			}
		}
	}
	return nil
}

// stripAnnotations removes every field named "annotations" at any nesting
// depth. Exports carry large annotation payloads whose content is never used.
func stripAnnotations(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		delete(t, "annotations")
		for k, item := range t {
			t[k] = stripAnnotations(item)
		}
	case []interface{}:
		for i, item := range t {
			t[i] = stripAnnotations(item)
		}
	}
	return v
}

func stringField(obj map[string]interface{}, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}
