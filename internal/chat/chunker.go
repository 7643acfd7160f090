package chat

import (
	"sort"
	"strings"
	"time"
)

// Window size policy: greedy bin-packing that prefers TargetChars-sized
// chunks but grows up to MaxChars rather than splitting below MinChars,
// trading retrieval granularity against context fragmentation.
const (
	DefaultTargetChars = 1000
	DefaultMinChars    = 400
	DefaultMaxChars    = 1600
)

// WindowOptions tunes the chunking policy. Zero values take the defaults.
type WindowOptions struct {
	TargetChars int
	MinChars    int
	MaxChars    int
}

func (o WindowOptions) withDefaults() WindowOptions {
	if o.TargetChars <= 0 {
		o.TargetChars = DefaultTargetChars
	}
	if o.MinChars <= 0 {
		o.MinChars = DefaultMinChars
	}
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	return o
}

// Short acknowledgements carry no retrieval value and are dropped before
// windowing.
var trivialUtterances = map[string]struct{}{
	"ok": {}, "k": {}, "lol": {}, "haha": {}, "thx": {}, "thanks": {},
	"\U0001F44D": {}, "\U0001F602": {},
}

// IsTrivialUtterance reports whether a message should be excluded from
// chunking entirely.
func IsTrivialUtterance(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len([]rune(trimmed)) < 2 {
		return true
	}
	_, found := trivialUtterances[strings.ToLower(trimmed)]
	return found
}

// accumulator is the fold state threaded through the input sequence.
type accumulator struct {
	content      strings.Builder
	startTime    *time.Time
	endTime      *time.Time
	participants map[string]struct{}
	emails       map[string]struct{}
	messageCount int
}

func newAccumulator() *accumulator {
	return &accumulator{
		participants: make(map[string]struct{}),
		emails:       make(map[string]struct{}),
	}
}

func (a *accumulator) empty() bool { return a.content.Len() == 0 }

func (a *accumulator) fold(msg CanonicalMessage) {
	line := msg.Participant + ": " + msg.Content
	if a.empty() {
		a.startTime = msg.Timestamp
	} else {
		a.content.WriteByte('\n')
	}
	a.content.WriteString(line)
	if msg.Timestamp != nil {
		a.endTime = msg.Timestamp
	}
	if msg.Participant != "" {
		a.participants[msg.Participant] = struct{}{}
	}
	if msg.ParticipantEmail != "" {
		a.emails[msg.ParticipantEmail] = struct{}{}
	}
	a.messageCount++
}

// flush converts the accumulator into a chunk. A flush whose content trims to
// empty is dropped.
func (a *accumulator) flush() *Chunk {
	content := a.content.String()
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return &Chunk{
		Content:           content,
		StartTime:         a.startTime,
		EndTime:           a.endTime,
		Participants:      sortedKeys(a.participants),
		ParticipantEmails: sortedKeys(a.emails),
		MessageCount:      a.messageCount,
	}
}

// Window groups canonical messages into bounded-size retrieval chunks,
// preserving input order.
func Window(messages []CanonicalMessage, opts WindowOptions) []Chunk {
	opts = opts.withDefaults()

	var chunks []Chunk
	acc := newAccumulator()
	emit := func() {
		if chunk := acc.flush(); chunk != nil {
			chunks = append(chunks, *chunk)
		}
		acc = newAccumulator()
	}

	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" || IsTrivialUtterance(msg.Content) {
			continue
		}
		candidate := len(msg.Participant) + 2 + len(msg.Content)
		if !acc.empty() {
			candidate++ // joining newline
		}
		if acc.content.Len()+candidate > opts.MaxChars && acc.content.Len() >= opts.MinChars {
			emit()
		}
		acc.fold(msg)
		if acc.content.Len() >= opts.TargetChars {
			emit()
		}
	}
	emit()
	return chunks
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
