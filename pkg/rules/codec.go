package rules

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed rule message")

// Field numbers of the Rule message and its definition messages.
const (
	fieldRuleID           protowire.Number = 1
	fieldRuleTS           protowire.Number = 2
	fieldRuleEnabled      protowire.Number = 3
	fieldRuleDescription  protowire.Number = 4
	fieldRuleVersion      protowire.Number = 5
	fieldRuleCreatedBy    protowire.Number = 6
	fieldRuleLastModified protowire.Number = 7
	fieldRuleRouting      protowire.Number = 10
	fieldRuleFraud        protowire.Number = 11
	fieldRuleCompliance   protowire.Number = 12
	fieldRuleBusiness     protowire.Number = 13

	fieldRuleSetRules protowire.Number = 1
)

// Bounds of google.protobuf.Timestamp. The minimum instant is the zero
// time.Time, which the model reads as unset, so only later instants decode.
const (
	minTimestampSeconds = -62135596800
	maxTimestampSeconds = 253402300799
	maxTimestampNanos   = 999999999
)

// Marshal encodes r in canonical protobuf form: fields in number order and
// proto3 default values omitted, so Marshal(Unmarshal(b)) == b for every
// canonically encoded b.
func Marshal(r *Rule) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("marshal rule: nil rule")
	}
	return AppendRule(nil, r), nil
}

// AppendRule appends the encoding of r to b.
func AppendRule(b []byte, r *Rule) []byte {
	b = appendString(b, fieldRuleID, r.ID)
	b = appendTimestamp(b, fieldRuleTS, r.CreatedAt)
	b = appendBool(b, fieldRuleEnabled, r.Enabled)
	b = appendString(b, fieldRuleDescription, r.Description)
	b = appendString(b, fieldRuleVersion, r.Version)
	b = appendString(b, fieldRuleCreatedBy, r.CreatedBy)
	b = appendTimestamp(b, fieldRuleLastModified, r.LastModified)

	if !definitionSet(r.Definition) {
		return b
	}
	switch d := r.Definition.(type) {
	case *Routing:
		b = appendMessage(b, fieldRuleRouting, appendRouting(nil, d))
	case *Fraud:
		b = appendMessage(b, fieldRuleFraud, appendFraud(nil, d))
	case *Compliance:
		b = appendMessage(b, fieldRuleCompliance, appendCompliance(nil, d))
	case *Business:
		b = appendMessage(b, fieldRuleBusiness, appendBusiness(nil, d))
	}
	return b
}

func appendRouting(b []byte, d *Routing) []byte {
	b = appendString(b, 1, d.Name)
	b = appendString(b, 2, d.Match)
	if len(d.Methods) > 0 {
		var packed []byte
		for _, m := range d.Methods {
			packed = protowire.AppendVarint(packed, uint64(int64(m)))
		}
		b = appendMessage(b, 3, packed)
	}
	for _, p := range d.Processors {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	b = appendInt32(b, 5, int32(d.Priority))
	b = appendDouble(b, 6, d.Weight)
	return b
}

func appendFraud(b []byte, d *Fraud) []byte {
	b = appendString(b, 1, d.Name)
	b = appendString(b, 2, d.Expression)
	b = appendDouble(b, 3, d.ScoreWeight)
	b = appendDouble(b, 4, d.Threshold)
	b = appendInt32(b, 5, int32(d.Action))
	return b
}

func appendCompliance(b []byte, d *Compliance) []byte {
	b = appendString(b, 1, d.Name)
	b = appendString(b, 2, d.Expression)
	b = appendBool(b, 3, d.Mandatory)
	b = appendString(b, 4, d.Regulation)
	for _, c := range d.Countries {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	return b
}

func appendBusiness(b []byte, d *Business) []byte {
	b = appendString(b, 1, d.Name)
	b = appendString(b, 2, d.Condition)
	b = appendString(b, 3, d.Action)
	b = appendDouble(b, 4, d.Discount)
	for _, t := range d.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	return b
}

// Unmarshal decodes a Rule message. A message carrying more than one
// definition field yields a *ValidationError with MULTIPLE_DEFINITIONS.
// Repeated occurrences of the same definition field are merged.
func Unmarshal(b []byte) (*Rule, error) {
	r := &Rule{}
	seen := 0
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldRuleID:
			return consumeString(typ, v, &r.ID)
		case fieldRuleTS:
			return consumeTimestamp(typ, v, &r.CreatedAt)
		case fieldRuleEnabled:
			return consumeBool(typ, v, &r.Enabled)
		case fieldRuleDescription:
			return consumeString(typ, v, &r.Description)
		case fieldRuleVersion:
			return consumeString(typ, v, &r.Version)
		case fieldRuleCreatedBy:
			return consumeString(typ, v, &r.CreatedBy)
		case fieldRuleLastModified:
			return consumeTimestamp(typ, v, &r.LastModified)
		case fieldRuleRouting, fieldRuleFraud, fieldRuleCompliance, fieldRuleBusiness:
			msg, n, err := consumeMessage(typ, v)
			if err != nil {
				return n, err
			}
			def, merged, err := decodeDefinition(num, msg, r.Definition)
			if err != nil {
				return n, err
			}
			if !merged {
				seen++
			}
			r.Definition = def
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if seen > 1 {
		return nil, &ValidationError{RuleID: r.ID, Errors: []FieldError{{
			Field:   "definition",
			Message: "more than one of routing, fraud, compliance or business is set",
			Code:    CodeMultipleDefinitions,
		}}}
	}
	return r, nil
}

// decodeDefinition decodes the definition message b. When prev holds the
// same variant, b is merged into it and merged is true.
func decodeDefinition(num protowire.Number, b []byte, prev Definition) (Definition, bool, error) {
	switch num {
	case fieldRuleRouting:
		d, merged := prev.(*Routing)
		if !merged || d == nil {
			d, merged = &Routing{}, false
		}
		err := walkFields(b, func(f protowire.Number, typ protowire.Type, v []byte) (int, error) {
			switch f {
			case 1:
				return consumeString(typ, v, &d.Name)
			case 2:
				return consumeString(typ, v, &d.Match)
			case 3:
				return consumeMethods(typ, v, &d.Methods)
			case 4:
				var s string
				n, err := consumeString(typ, v, &s)
				if err == nil {
					d.Processors = append(d.Processors, s)
				}
				return n, err
			case 5:
				var p int32
				n, err := consumeInt32(typ, v, &p)
				d.Priority = int(p)
				return n, err
			case 6:
				return consumeDouble(typ, v, &d.Weight)
			}
			return -1, nil
		})
		return d, merged, err

	case fieldRuleFraud:
		d, merged := prev.(*Fraud)
		if !merged || d == nil {
			d, merged = &Fraud{}, false
		}
		err := walkFields(b, func(f protowire.Number, typ protowire.Type, v []byte) (int, error) {
			switch f {
			case 1:
				return consumeString(typ, v, &d.Name)
			case 2:
				return consumeString(typ, v, &d.Expression)
			case 3:
				return consumeDouble(typ, v, &d.ScoreWeight)
			case 4:
				return consumeDouble(typ, v, &d.Threshold)
			case 5:
				var a int32
				n, err := consumeInt32(typ, v, &a)
				d.Action = FraudAction(a)
				return n, err
			}
			return -1, nil
		})
		return d, merged, err

	case fieldRuleCompliance:
		d, merged := prev.(*Compliance)
		if !merged || d == nil {
			d, merged = &Compliance{}, false
		}
		err := walkFields(b, func(f protowire.Number, typ protowire.Type, v []byte) (int, error) {
			switch f {
			case 1:
				return consumeString(typ, v, &d.Name)
			case 2:
				return consumeString(typ, v, &d.Expression)
			case 3:
				return consumeBool(typ, v, &d.Mandatory)
			case 4:
				return consumeString(typ, v, &d.Regulation)
			case 5:
				var s string
				n, err := consumeString(typ, v, &s)
				if err == nil {
					d.Countries = append(d.Countries, s)
				}
				return n, err
			}
			return -1, nil
		})
		return d, merged, err

	default:
		d, merged := prev.(*Business)
		if !merged || d == nil {
			d, merged = &Business{}, false
		}
		err := walkFields(b, func(f protowire.Number, typ protowire.Type, v []byte) (int, error) {
			switch f {
			case 1:
				return consumeString(typ, v, &d.Name)
			case 2:
				return consumeString(typ, v, &d.Condition)
			case 3:
				return consumeString(typ, v, &d.Action)
			case 4:
				return consumeDouble(typ, v, &d.Discount)
			case 5:
				var s string
				n, err := consumeString(typ, v, &s)
				if err == nil {
					d.Tags = append(d.Tags, s)
				}
				return n, err
			}
			return -1, nil
		})
		return d, merged, err
	}
}

// MarshalRuleSet encodes a RuleSet message.
func MarshalRuleSet(rs []*Rule) []byte {
	return AppendRuleSet(nil, rs)
}

// AppendRuleSet appends a RuleSet encoding of rs to b.
func AppendRuleSet(b []byte, rs []*Rule) []byte {
	for _, r := range rs {
		b = appendMessage(b, fieldRuleSetRules, AppendRule(nil, r))
	}
	return b
}

// UnmarshalRuleSet decodes a RuleSet message.
func UnmarshalRuleSet(b []byte) ([]*Rule, error) {
	var out []*Rule
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != fieldRuleSetRules {
			return -1, nil
		}
		msg, n, err := consumeMessage(typ, v)
		if err != nil {
			return n, err
		}
		r, err := Unmarshal(msg)
		if err != nil {
			return n, fmt.Errorf("rule %d: %w", len(out), err)
		}
		out = append(out, r)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walkFields calls fn for every field in b. fn returns the number of bytes
// it consumed from v, or -1 to have the field skipped as unknown.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return malformed(protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func wrongType(typ protowire.Type) error {
	return fmt.Errorf("%w: unexpected wire type %d", ErrMalformed, typ)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wrongType(typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, malformed(protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = int32(v)
	return n, nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, wrongType(typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

// consumeMethods accepts both packed and unpacked encodings of the
// repeated enum field.
func consumeMethods(typ protowire.Type, b []byte, dst *[]PaymentMethod) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, malformed(protowire.ParseError(n))
		}
		*dst = append(*dst, PaymentMethod(int32(v)))
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, malformed(protowire.ParseError(n))
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, malformed(protowire.ParseError(m))
			}
			*dst = append(*dst, PaymentMethod(int32(v)))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, wrongType(typ)
}

// consumeTimestamp decodes a google.protobuf.Timestamp.
func consumeTimestamp(typ protowire.Type, b []byte, dst *time.Time) (int, error) {
	msg, n, err := consumeMessage(typ, b)
	if err != nil {
		return n, err
	}
	var seconds int64
	var nanos int32
	err = walkFields(msg, func(f protowire.Number, t protowire.Type, v []byte) (int, error) {
		switch f {
		case 1:
			if t != protowire.VarintType {
				return 0, wrongType(t)
			}
			x, m := protowire.ConsumeVarint(v)
			if m < 0 {
				return 0, malformed(protowire.ParseError(m))
			}
			seconds = int64(x)
			return m, nil
		case 2:
			return consumeInt32(t, v, &nanos)
		}
		return -1, nil
	})
	if err != nil {
		return n, err
	}
	if nanos < 0 || nanos > maxTimestampNanos {
		return n, fmt.Errorf("%w: timestamp nanos %d out of range", ErrMalformed, nanos)
	}
	if seconds < minTimestampSeconds || seconds > maxTimestampSeconds ||
		(seconds == minTimestampSeconds && nanos == 0) {
		return n, fmt.Errorf("%w: timestamp %d.%09d out of range", ErrMalformed, seconds, nanos)
	}
	*dst = time.Unix(seconds, int64(nanos)).UTC()
	return n, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendTimestamp encodes t as a google.protobuf.Timestamp. The zero time
// is treated as unset.
func appendTimestamp(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	var msg []byte
	if s := t.Unix(); s != 0 {
		msg = protowire.AppendTag(msg, 1, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(s))
	}
	if ns := t.Nanosecond(); ns != 0 {
		msg = protowire.AppendTag(msg, 2, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(int64(ns)))
	}
	return appendMessage(b, num, msg)
}
