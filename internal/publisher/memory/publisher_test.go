package memory

import (
	"context"
	"fmt"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if msgs[0].PublishedAt.IsZero() {
		t.Fatal("expected publish timestamp to be set")
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}

	pub.Reset()
	if len(pub.Messages()) != 0 {
		t.Fatal("expected Reset to drop messages")
	}
}

func TestPublisherRetainsBoundedHistory(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	pub.retain = 3
	for i := 0; i < 5; i++ {
		if _, err := pub.Publish(context.Background(), fmt.Sprintf("topic-%d", i), nil); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	msgs := pub.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-2" || msgs[2].Topic != "topic-4" {
		t.Fatalf("unexpected retained window: %+v", msgs)
	}
}
