package feed

import (
	"context"
	"sync"
)

// Message is one raw event delivered by a Source.
type Message struct {
	// Payload is the encoded ChangeEvent.
	Payload []byte

	// Offset identifies the message in its source (stream id, file name).
	Offset string

	// Ack acknowledges the message with the outcome of handling it: nil
	// when it was applied or skipped as a redelivery, the rejection error
	// otherwise. It may be nil.
	Ack func(ctx context.Context, result error) error
}

// Source delivers messages in publish order, at least once. The channel
// is closed when ctx is done or the source stops.
type Source interface {
	Messages(ctx context.Context) (<-chan Message, error)
}

// ChannelSource is an in-process Source fed by Publish.
type ChannelSource struct {
	ch        chan Message
	closeOnce sync.Once
}

// NewChannelSource returns a source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan Message, buffer)}
}

// Messages returns the source channel. The channel closes when Close is
// called; it is not closed on ctx cancellation since other publishers may
// still hold the source.
func (s *ChannelSource) Messages(ctx context.Context) (<-chan Message, error) {
	return s.ch, nil
}

// Publish encodes e and enqueues it, blocking until there is room or ctx
// is done.
func (s *ChannelSource) Publish(ctx context.Context, e Event) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return s.PublishRaw(ctx, Message{Payload: b})
}

// PublishRaw enqueues msg as is.
func (s *ChannelSource) PublishRaw(ctx context.Context, msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Publishing after Close panics.
func (s *ChannelSource) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
