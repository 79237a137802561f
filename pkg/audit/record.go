package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"mercator-hq/rules/pkg/pipeline"
	"mercator-hq/rules/pkg/rules"
)

// Record summarises one evaluation.
type Record struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	RequestID  string    `json:"request_id,omitempty"`

	// TransactionHash is the hex SHA-256 of the transaction's JSON
	// encoding with sorted keys.
	TransactionHash string `json:"transaction_hash"`

	// Kinds lists the requested kinds. Empty means all kinds.
	Kinds []string `json:"kinds,omitempty"`

	SnapshotVersion uint64 `json:"snapshot_version"`
	SnapshotDigest  string `json:"snapshot_digest"`

	// Matched and Failed list rule ids in evaluation order.
	Matched []string `json:"matched,omitempty"`
	Failed  []string `json:"failed,omitempty"`

	Primary     string  `json:"primary,omitempty"`
	FraudScore  float64 `json:"fraud_score"`
	FraudAction string  `json:"fraud_action,omitempty"`
	Blocked     bool    `json:"blocked"`
	BlockedBy   string  `json:"blocked_by,omitempty"`
	Discount    float64 `json:"discount"`

	ElapsedMicros int64 `json:"elapsed_us"`
}

// NewRecord summarises d, the decision reached for txn.
func NewRecord(txn map[string]any, kinds []rules.Kind, d *pipeline.Decision) *Record {
	rec := &Record{
		ID:              uuid.NewString(),
		TransactionHash: HashTransaction(txn),
		SnapshotVersion: d.SnapshotVersion,
		SnapshotDigest:  d.SnapshotDigest,
		ElapsedMicros:   d.Elapsed.Microseconds(),
	}
	for _, k := range kinds {
		rec.Kinds = append(rec.Kinds, string(k))
	}
	for _, r := range d.Results {
		switch {
		case r.Err != nil:
			rec.Failed = append(rec.Failed, r.RuleID)
		case r.Matched:
			rec.Matched = append(rec.Matched, r.RuleID)
		}
	}
	if d.Routing != nil {
		rec.Primary = d.Routing.Primary
	}
	if d.Fraud != nil {
		rec.FraudScore = d.Fraud.Score
		rec.FraudAction = d.Fraud.Action.String()
	}
	if d.Compliance != nil {
		rec.Blocked = d.Compliance.Blocked
		rec.BlockedBy = d.Compliance.BlockedBy
	}
	if d.Business != nil {
		rec.Discount = d.Business.Discount
	}
	return rec
}

// HashTransaction returns the hex SHA-256 of txn's JSON encoding, or ""
// when txn cannot be encoded. encoding/json sorts map keys, so equal
// transactions hash equally.
func HashTransaction(txn map[string]any) string {
	data, err := json.Marshal(txn)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// references reports whether the record matched or failed on ruleID.
func (r *Record) references(ruleID string) bool {
	for _, id := range r.Matched {
		if id == ruleID {
			return true
		}
	}
	for _, id := range r.Failed {
		if id == ruleID {
			return true
		}
	}
	return false
}
