package bus

import (
	"log/slog"
	"sync"
	"time"

	"filterbot/internal/domain"
)

const (
	defaultLanes          = 8
	defaultPublishTimeout = 10 * time.Second
)

// ChatBus carries inbound messages from channels to the router. Messages
// are spread over lanes by chat id: a chat's messages are delivered in
// order on one lane while other chats proceed on the others.
type ChatBus struct {
	lanes          []chan domain.InboundMessage
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a ChatBus with the given number of lanes, each buffering up
// to bufferSize messages.
func New(lanes, bufferSize int, logger *slog.Logger) *ChatBus {
	if lanes <= 0 {
		lanes = defaultLanes
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &ChatBus{
		lanes:          make([]chan domain.InboundMessage, lanes),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
	for i := range b.lanes {
		b.lanes[i] = make(chan domain.InboundMessage, bufferSize)
	}
	return b
}

// laneFor maps a chat id to a lane. Group ids are large negative numbers
// that share their low bits, so the id is mixed before reducing it.
func (b *ChatBus) laneFor(chatID int64) int {
	x := uint64(chatID)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return int(x % uint64(len(b.lanes)))
}

// Publish blocks up to the publish timeout if the chat's lane is full,
// then drops the message.
func (b *ChatBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "chat_id", msg.ChatID)
		return
	}

	lane := b.lanes[b.laneFor(msg.ChatID)]
	select {
	case lane <- msg:
		return
	default:
	}

	b.logger.Warn("chat lane full, waiting", "chat_id", msg.ChatID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case lane <- msg:
	case <-timer.C:
		b.logger.Error("message dropped: lane full",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"message_id", msg.MessageID,
			"timeout", b.publishTimeout,
		)
	}
}

// Lanes returns the receive side of every lane. Each lane is closed by Close.
func (b *ChatBus) Lanes() []<-chan domain.InboundMessage {
	out := make([]<-chan domain.InboundMessage, len(b.lanes))
	for i, l := range b.lanes {
		out[i] = l
	}
	return out
}

// Pending is the number of queued messages across all lanes.
func (b *ChatBus) Pending() int {
	n := 0
	for _, l := range b.lanes {
		n += len(l)
	}
	return n
}

func (b *ChatBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, l := range b.lanes {
		close(l)
	}
}
