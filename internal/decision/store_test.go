package decision

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryStoreBounded(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Append(ctx, LogEntry{Bot: "A", Decision: Decision{Reasoning: fmt.Sprint(i)}})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	s.Append(ctx, LogEntry{Bot: "B"})

	if s.Len("A") != 3 {
		t.Errorf("Expected 3 entries kept, got %d", s.Len("A"))
	}

	recent, _ := s.Recent(ctx, "A", 0)
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}
	if recent[0].Decision.Reasoning != "4" || recent[2].Decision.Reasoning != "2" {
		t.Errorf("Expected newest first 4..2, got %s..%s", recent[0].Decision.Reasoning, recent[2].Decision.Reasoning)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp assigned")
	}

	limited, _ := s.Recent(ctx, "A", 1)
	if len(limited) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(limited))
	}
	if other, _ := s.Recent(ctx, "B", 10); len(other) != 1 {
		t.Errorf("Expected bots isolated, got %d", len(other))
	}
}

func TestMemoryStoreDefaultCapacity(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < DefaultLogCapacity+10; i++ {
		s.Append(ctx, LogEntry{Bot: "A"})
	}
	if s.Len("A") != DefaultLogCapacity {
		t.Errorf("Expected %d entries, got %d", DefaultLogCapacity, s.Len("A"))
	}
}
