package feed

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"mercator-hq/rules/pkg/rules"
)

// ChangeEvent field numbers.
const (
	fieldSequence   protowire.Number = 1
	fieldUpsert     protowire.Number = 2
	fieldDelete     protowire.Number = 3
	fieldFullReload protowire.Number = 4
)

// Marshal encodes e as a ChangeEvent message.
func Marshal(e Event) ([]byte, error) {
	var b []byte
	if e.Sequence != 0 {
		b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Sequence)
	}

	switch e.Type {
	case EventUpsert:
		if e.Rule == nil {
			return nil, errors.New("marshal upsert event: nil rule")
		}
		b = protowire.AppendTag(b, fieldUpsert, protowire.BytesType)
		b = protowire.AppendBytes(b, rules.AppendRule(nil, e.Rule))
	case EventDelete:
		if e.RuleID == "" {
			return nil, errors.New("marshal delete event: empty rule id")
		}
		b = protowire.AppendTag(b, fieldDelete, protowire.BytesType)
		b = protowire.AppendString(b, e.RuleID)
	case EventFullReload:
		b = protowire.AppendTag(b, fieldFullReload, protowire.BytesType)
		b = protowire.AppendBytes(b, rules.MarshalRuleSet(e.Rules))
	default:
		return nil, fmt.Errorf("marshal event: unknown type %v", e.Type)
	}
	return b, nil
}

// Unmarshal decodes a ChangeEvent message. Failures are returned as
// *DecodeError. When more than one payload field is present the last one
// wins, as in protobuf oneof semantics.
func Unmarshal(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, decodeErr(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSequence && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, decodeErr(protowire.ParseError(n))
			}
			e.Sequence = v
			b = b[n:]

		case num == fieldUpsert && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, decodeErr(protowire.ParseError(n))
			}
			r, err := rules.Unmarshal(v)
			if err != nil {
				return Event{}, decodeErr(fmt.Errorf("upsert: %w", err))
			}
			e.Type, e.Rule, e.RuleID, e.Rules = EventUpsert, r, "", nil
			b = b[n:]

		case num == fieldDelete && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Event{}, decodeErr(protowire.ParseError(n))
			}
			e.Type, e.Rule, e.RuleID, e.Rules = EventDelete, nil, v, nil
			b = b[n:]

		case num == fieldFullReload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, decodeErr(protowire.ParseError(n))
			}
			rs, err := rules.UnmarshalRuleSet(v)
			if err != nil {
				return Event{}, decodeErr(fmt.Errorf("full_reload: %w", err))
			}
			e.Type, e.Rule, e.RuleID, e.Rules = EventFullReload, nil, "", rs
			b = b[n:]

		case num == fieldSequence || num == fieldUpsert || num == fieldDelete || num == fieldFullReload:
			return Event{}, decodeErr(fmt.Errorf("field %d: unexpected wire type %d", num, typ))

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, decodeErr(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch {
	case e.Type == 0:
		return Event{}, decodeErr(errors.New("event carries no change"))
	case e.Type == EventDelete && e.RuleID == "":
		return Event{}, decodeErr(errors.New("delete: empty rule id"))
	}
	return e, nil
}

func decodeErr(err error) error {
	return &DecodeError{Err: err}
}
