// Package chat converts exported chat-history JSON into retrieval-ready
// chunks: normalization of heterogeneous export shapes, permissive timestamp
// parsing, windowed chunking and content-hash identity.
package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CanonicalMessage is the normalized form of one exported chat message.
// Produced by the normalizer, consumed by the chunker, never persisted.
type CanonicalMessage struct {
	Content          string
	Timestamp        *time.Time
	Participant      string
	ParticipantEmail string
}

// Chunk is a bounded-size span of consecutive messages concatenated into one
// retrieval unit. Immutable after creation; the store attaches the embedding.
type Chunk struct {
	Content           string
	StartTime         *time.Time
	EndTime           *time.Time
	Participants      []string
	ParticipantEmails []string
	MessageCount      int
}

// Hash derives the chunk's stable dedup identity from participants, time
// window and content. xxhash is deliberately non-cryptographic: a collision
// only suppresses the store of a near-duplicate chunk, it is not a security
// boundary.
func (c Chunk) Hash() string {
	return ChunkHash(c.Participants, c.StartTime, c.EndTime, c.Content)
}

// ChunkHash is deterministic for identical input regardless of participant
// ordering.
func ChunkHash(participants []string, start, end *time.Time, content string) string {
	names := append([]string(nil), participants...)
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.Join(names, ","))
	b.WriteByte('|')
	b.WriteString(formatHashTime(start))
	b.WriteByte('|')
	b.WriteString(formatHashTime(end))
	b.WriteByte('|')
	b.WriteString(content)
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

func formatHashTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
