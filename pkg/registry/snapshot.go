package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"mercator-hq/rules/pkg/rules"
)

// Snapshot is an immutable view of the rule set. Readers obtain one from
// Registry.Snapshot and may use it for as long as they like; later writes
// publish new snapshots and never modify existing ones.
//
// Rules returned by a snapshot are shared and must not be mutated.
type Snapshot struct {
	// Version increases by one on every published change.
	Version uint64

	// Digest identifies the rule set content (16 hex chars).
	Digest string

	// CreatedAt is when the snapshot was published.
	CreatedAt time.Time

	byID  map[string]*rules.Rule
	kinds map[rules.Kind][]*rules.Rule
}

func emptySnapshot() *Snapshot {
	s := &Snapshot{
		byID:      map[string]*rules.Rule{},
		kinds:     map[rules.Kind][]*rules.Rule{},
		CreatedAt: time.Now(),
	}
	s.Digest = s.computeDigest()
	return s
}

// Get returns the rule with id.
func (s *Snapshot) Get(id string) (*rules.Rule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the total number of rules.
func (s *Snapshot) Len() int { return len(s.byID) }

// Count returns the number of rules of kind.
func (s *Snapshot) Count(kind rules.Kind) int { return len(s.kinds[kind]) }

// Rules returns the rules of kind in evaluation order: routing rules by
// ascending priority then id, other kinds by id.
func (s *Snapshot) Rules(kind rules.Kind) []*rules.Rule {
	return s.kinds[kind]
}

// All returns every rule ordered by id.
func (s *Snapshot) All() []*rules.Rule {
	out := make([]*rules.Rule, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of rules per kind.
func (s *Snapshot) Counts() map[rules.Kind]int {
	out := make(map[rules.Kind]int, len(rules.Kinds))
	for _, k := range rules.Kinds {
		out[k] = len(s.kinds[k])
	}
	return out
}

// derive returns a copy of s sharing every kind index except the ones
// named in touched, which are rebuilt from the new id map.
func (s *Snapshot) derive(byID map[string]*rules.Rule, touched ...rules.Kind) *Snapshot {
	next := &Snapshot{
		Version:   s.Version + 1,
		CreatedAt: time.Now(),
		byID:      byID,
		kinds:     make(map[rules.Kind][]*rules.Rule, len(rules.Kinds)),
	}
	for k, v := range s.kinds {
		next.kinds[k] = v
	}
	for _, k := range touched {
		next.kinds[k] = buildIndex(byID, k)
	}
	next.Digest = next.computeDigest()
	return next
}

func buildIndex(byID map[string]*rules.Rule, kind rules.Kind) []*rules.Rule {
	var out []*rules.Rule
	for _, r := range byID {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	if kind == rules.KindRouting {
		sort.Slice(out, func(i, j int) bool {
			pi, pj := out[i].Routing().Priority, out[j].Routing().Priority
			if pi != pj {
				return pi < pj
			}
			return out[i].ID < out[j].ID
		})
		return out
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Snapshot) computeDigest() string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		r := s.byID[id]
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(r.Version))
		h.Write([]byte{0})
		h.Write([]byte(r.LastModified.UTC().Format(time.RFC3339Nano)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
