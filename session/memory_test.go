package session

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryTrimsToHistoryLimit(t *testing.T) {
	st := NewInMemory(Options{HistoryLimit: 3})
	ctx := context.Background()

	for i, content := range []string{"one", "two", "three", "four", "five"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := st.Append(ctx, "u1", Turn{Role: role, Content: content, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := st.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns got %d", len(turns))
	}
	if turns[0].Content != "three" || turns[2].Content != "five" {
		t.Fatalf("expected most recent turns, got %+v", turns)
	}
}

func TestInMemoryIsolatesUsers(t *testing.T) {
	st := NewInMemory(Options{})
	ctx := context.Background()

	_ = st.Append(ctx, "u1", Turn{Role: "user", Content: "mine"})
	turns, err := st.History(ctx, "u2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty history for other user, got %+v", turns)
	}
}

func TestInMemoryClear(t *testing.T) {
	st := NewInMemory(Options{})
	ctx := context.Background()

	_ = st.Append(ctx, "u1", Turn{Role: "user", Content: "hello"})
	if err := st.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	turns, _ := st.History(ctx, "u1")
	if len(turns) != 0 {
		t.Fatalf("expected cleared history, got %+v", turns)
	}
}

func TestNewStoreFactory(t *testing.T) {
	if _, err := NewStore(InMemoryStore, nil, Options{}); err != nil {
		t.Fatalf("inmemory store: %v", err)
	}
	if _, err := NewStore(RedisStore, nil, Options{}); err == nil {
		t.Fatalf("redis store without client must fail")
	}
	if _, err := NewStore("bolt", nil, Options{}); err == nil {
		t.Fatalf("unknown store type must fail")
	}
}
