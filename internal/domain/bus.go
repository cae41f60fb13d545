package domain

// MessageBus accepts inbound messages from channels.
type MessageBus interface {
	Publish(msg InboundMessage)
}
