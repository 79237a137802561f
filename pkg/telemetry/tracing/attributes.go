package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "rules.*" namespace.
const (
	AttrRuleID          = "rules.rule_id"
	AttrRuleKind        = "rules.kind"
	AttrSnapshotVersion = "rules.snapshot_version"
	AttrSnapshotDigest  = "rules.snapshot_digest"
	AttrEventType       = "rules.event.type"
	AttrEventSequence   = "rules.event.sequence"
	AttrRequestID       = "rules.request_id"
	AttrErrorMessage    = "error.message"
)

// SetRuleAttributes records the rule a span operates on.
func SetRuleAttributes(span trace.Span, id, kind string) {
	span.SetAttributes(
		attribute.String(AttrRuleID, id),
		attribute.String(AttrRuleKind, kind),
	)
}

// SetSnapshotAttributes records the rule set snapshot a span observed.
func SetSnapshotAttributes(span trace.Span, version uint64, digest string) {
	span.SetAttributes(
		attribute.Int64(AttrSnapshotVersion, int64(version)),
		attribute.String(AttrSnapshotDigest, digest),
	)
}

// SetEventAttributes records a change-feed event.
func SetEventAttributes(span trace.Span, eventType string, sequence uint64) {
	span.SetAttributes(
		attribute.String(AttrEventType, eventType),
		attribute.Int64(AttrEventSequence, int64(sequence)),
	)
}
