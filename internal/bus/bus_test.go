package bus

import (
	"testing"
	"time"

	"filterbot/internal/domain"
)

func TestChatBus_PublishDeliversOnChatLane(t *testing.T) {
	b := New(4, 4, testEBLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "telegram", ChatID: -1001, Text: "hello"})

	lane := b.Lanes()[b.laneFor(-1001)]
	select {
	case msg := <-lane:
		if msg.ChatID != -1001 || msg.Text != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("message not on the chat's lane")
	}
}

func TestChatBus_SameChatSameLane(t *testing.T) {
	b := New(8, 1, testEBLogger())
	for _, id := range []int64{-1001234567890, 42, 0, -1} {
		first := b.laneFor(id)
		for i := 0; i < 10; i++ {
			if got := b.laneFor(id); got != first {
				t.Fatalf("chat %d moved from lane %d to %d", id, first, got)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("lane %d out of range", first)
		}
	}
}

func TestChatBus_SpreadsGroupIDs(t *testing.T) {
	b := New(4, 1, testEBLogger())
	used := map[int]bool{}
	// Supergroup ids differ only in their low digits.
	for id := int64(-1001000000000); id > -1001000000064; id-- {
		used[b.laneFor(id)] = true
	}
	if len(used) != 4 {
		t.Fatalf("expected all 4 lanes in use, got %d", len(used))
	}
}

func TestChatBus_KeepsOrderWithinChat(t *testing.T) {
	b := New(4, 16, testEBLogger())
	defer b.Close()

	for i := 1; i <= 10; i++ {
		b.Publish(domain.InboundMessage{ChatID: 7, MessageID: i})
	}
	lane := b.Lanes()[b.laneFor(7)]
	for i := 1; i <= 10; i++ {
		if msg := <-lane; msg.MessageID != i {
			t.Fatalf("expected message %d, got %d", i, msg.MessageID)
		}
	}
}

func TestChatBus_DropsWhenLaneStaysFull(t *testing.T) {
	b := New(1, 1, testEBLogger())
	b.publishTimeout = 10 * time.Millisecond
	defer b.Close()

	b.Publish(domain.InboundMessage{ChatID: 1, MessageID: 1})
	b.Publish(domain.InboundMessage{ChatID: 1, MessageID: 2})

	if got := b.Pending(); got != 1 {
		t.Fatalf("expected 1 pending message, got %d", got)
	}
	if msg := <-b.Lanes()[0]; msg.MessageID != 1 {
		t.Fatalf("expected the first message to survive, got %d", msg.MessageID)
	}
}

func TestChatBus_PublishAfterClose(t *testing.T) {
	b := New(2, 1, testEBLogger())
	b.Close()
	b.Close() // second close is a no-op

	b.Publish(domain.InboundMessage{ChatID: 1})

	for i, lane := range b.Lanes() {
		if _, ok := <-lane; ok {
			t.Errorf("lane %d should be closed", i)
		}
	}
}
