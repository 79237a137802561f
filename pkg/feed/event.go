// Package feed applies an ordered stream of rule change events to the
// registry.
//
// Events arrive from a Source as protobuf-encoded ChangeEvent messages.
// The Consumer is the registry's single writer: it decodes each message,
// drops redeliveries by sequence number, applies the event and acks it.
// Messages that fail to decode or validate are logged, counted and acked
// so a poison message never blocks the stream.
package feed

import (
	"fmt"

	"mercator-hq/rules/pkg/rules"
)

// EventType identifies the change carried by an Event.
type EventType int

const (
	EventUpsert EventType = iota + 1
	EventDelete
	EventFullReload
)

func (t EventType) String() string {
	switch t {
	case EventUpsert:
		return "upsert"
	case EventDelete:
		return "delete"
	case EventFullReload:
		return "full_reload"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a decoded change event.
type Event struct {
	Type EventType

	// Sequence orders events on the stream. Zero means unsequenced: the
	// event is always applied.
	Sequence uint64

	// Rule is set for EventUpsert.
	Rule *rules.Rule

	// RuleID is set for EventDelete.
	RuleID string

	// Rules is set for EventFullReload. It may be empty.
	Rules []*rules.Rule
}

// Upsert returns an upsert event.
func Upsert(seq uint64, r *rules.Rule) Event {
	return Event{Type: EventUpsert, Sequence: seq, Rule: r}
}

// Delete returns a delete event.
func Delete(seq uint64, id string) Event {
	return Event{Type: EventDelete, Sequence: seq, RuleID: id}
}

// FullReload returns a full reload event.
func FullReload(seq uint64, rs []*rules.Rule) Event {
	return Event{Type: EventFullReload, Sequence: seq, Rules: rs}
}
