package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"mercator-hq/rules/pkg/rules"
)

func routingRule(id string, priority int) *rules.Rule {
	return &rules.Rule{ID: id, Enabled: true, Definition: &rules.Routing{
		Name:       "route-" + id,
		Match:      "amount > 0",
		Methods:    []rules.PaymentMethod{rules.PaymentMethodCard},
		Processors: []string{"p-" + id},
		Priority:   priority,
		Weight:     1,
	}}
}

func fraudRule(id string) *rules.Rule {
	return &rules.Rule{ID: id, Enabled: true, Definition: &rules.Fraud{
		Name:        "fraud-" + id,
		Expression:  "amount > 100",
		ScoreWeight: 1,
		Threshold:   1,
		Action:      rules.FraudActionReview,
	}}
}

func TestRegistry_UpsertIsIdempotent(t *testing.T) {
	reg := New(Config{})
	rule := routingRule("a", 5)

	first, err := reg.Upsert(rule)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, err := reg.Upsert(rule.Clone())
	if err != nil {
		t.Fatalf("Upsert() again error = %v", err)
	}

	if second.Len() != 1 {
		t.Errorf("Len() = %d, want 1", second.Len())
	}
	if second.Digest != first.Digest {
		t.Errorf("Digest changed: %s -> %s", first.Digest, second.Digest)
	}
	if second.Version != first.Version {
		t.Errorf("Version = %d, want %d (identical upsert publishes nothing)", second.Version, first.Version)
	}
}

func TestRegistry_RoutingPriorityOrder(t *testing.T) {
	reg := New(Config{})
	for _, p := range []int{3, 1, 2} {
		if _, err := reg.Upsert(routingRule(fmt.Sprintf("r%d", p), p)); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	var got []int
	for _, r := range reg.Snapshot().Rules(rules.KindRouting) {
		got = append(got, r.Routing().Priority)
	}
	want := []int{1, 2, 3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("priority order = %v, want %v", got, want)
	}
}

func TestRegistry_PriorityTiesBreakByID(t *testing.T) {
	reg := New(Config{})
	for _, id := range []string{"c", "a", "b"} {
		if _, err := reg.Upsert(routingRule(id, 7)); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	var ids []string
	for _, r := range reg.Snapshot().Rules(rules.KindRouting) {
		ids = append(ids, r.ID)
	}
	if fmt.Sprint(ids) != "[a b c]" {
		t.Errorf("order = %v, want [a b c]", ids)
	}
}

func TestRegistry_UpsertChangingKindMovesIndex(t *testing.T) {
	reg := New(Config{})
	if _, err := reg.Upsert(routingRule("x", 1)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	snap, err := reg.Upsert(fraudRule("x"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if snap.Count(rules.KindRouting) != 0 || snap.Count(rules.KindFraud) != 1 {
		t.Errorf("Counts() = %v, want routing 0 fraud 1", snap.Counts())
	}
}

func TestRegistry_SnapshotsAreImmutable(t *testing.T) {
	reg := New(Config{})
	if _, err := reg.Upsert(routingRule("a", 1)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	old := reg.Snapshot()

	if _, err := reg.Upsert(routingRule("b", 2)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := reg.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if old.Len() != 1 || len(old.Rules(rules.KindRouting)) != 1 {
		t.Errorf("old snapshot changed: len=%d", old.Len())
	}
	if _, ok := old.Get("a"); !ok {
		t.Error("old snapshot lost rule a")
	}
	if cur := reg.Snapshot(); cur.Version <= old.Version {
		t.Errorf("Version = %d, want > %d", cur.Version, old.Version)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := New(Config{})
	if _, err := reg.Upsert(routingRule("a", 1)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, ok := reg.Get("a")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	got.Routing().Priority = 999
	again, _ := reg.Get("a")
	if again.Routing().Priority != 1 {
		t.Error("mutating Get() result changed the registry")
	}
}

func TestRegistry_DeleteNotFound(t *testing.T) {
	reg := New(Config{})
	_, err := reg.Delete("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("Delete() error = %v, want NotFoundError", err)
	}
}

func TestRegistry_UpsertRejectsInvalid(t *testing.T) {
	reg := New(Config{})
	bad := routingRule("a", 0)
	_, err := reg.Upsert(bad)
	var verr *rules.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Upsert() error = %v, want ValidationError", err)
	}
	if reg.Snapshot().Len() != 0 {
		t.Error("invalid rule was admitted")
	}
}

func TestRegistry_ReplaceIsAllOrNothing(t *testing.T) {
	reg := New(Config{})
	if _, err := reg.Upsert(routingRule("keep", 1)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	before := reg.Snapshot()

	_, err := reg.Replace([]*rules.Rule{routingRule("a", 1), routingRule("b", 0), fraudRule("c")})
	if err == nil {
		t.Fatal("Replace() error = nil, want validation error")
	}
	var verr *rules.ValidationError
	if !errors.As(err, &verr) || verr.RuleID != "b" {
		t.Errorf("Replace() error = %v, want ValidationError for b", err)
	}
	if reg.Snapshot() != before {
		t.Error("failed Replace published a snapshot")
	}

	_, err = reg.Replace([]*rules.Rule{routingRule("a", 1), fraudRule("a")})
	if err == nil {
		t.Error("Replace() with duplicate ids error = nil")
	}

	snap, err := reg.Replace([]*rules.Rule{routingRule("a", 1), fraudRule("c")})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if _, ok := snap.Get("keep"); ok {
		t.Error("Replace() kept a rule not in the new set")
	}
	if snap.Len() != 2 {
		t.Errorf("Len() = %d, want 2", snap.Len())
	}
}

func TestRegistry_ReplaceWithEmptySet(t *testing.T) {
	reg := New(Config{})
	if _, err := reg.Upsert(fraudRule("f")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	snap, err := reg.Replace(nil)
	if err != nil {
		t.Fatalf("Replace(nil) error = %v", err)
	}
	for _, k := range rules.Kinds {
		if n := snap.Count(k); n != 0 {
			t.Errorf("Count(%s) = %d, want 0", k, n)
		}
	}
}

func TestRegistry_List(t *testing.T) {
	reg := New(Config{DefaultPageSize: 2, MaxPageSize: 3})
	for i := 1; i <= 5; i++ {
		r := routingRule(fmt.Sprintf("route-%d", i), i)
		r.Description = fmt.Sprintf("rule number %d", i)
		if i == 4 {
			r.Enabled = false
		}
		if _, err := reg.Upsert(r); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	f := fraudRule("velocity")
	f.Description = "Velocity check"
	if _, err := reg.Upsert(f); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name      string
		opts      ListOptions
		wantIDs   string
		wantTotal int
		wantSize  int
	}{
		{"default page", ListOptions{}, "[route-1 route-2]", 6, 2},
		{"page 3", ListOptions{Page: 3}, "[route-5 velocity]", 6, 2},
		{"past end", ListOptions{Page: 9}, "[]", 6, 2},
		{"capped size", ListOptions{PageSize: 100}, "[route-1 route-2 route-3]", 6, 3},
		{"kind", ListOptions{Kind: rules.KindFraud}, "[velocity]", 1, 2},
		{"enabled only", ListOptions{EnabledOnly: true, PageSize: 3, Page: 2}, "[route-5 velocity]", 5, 3},
		{"filter description", ListOptions{Filter: "VELOCITY"}, "[velocity]", 1, 2},
		{"filter name", ListOptions{Filter: "fraud-"}, "[velocity]", 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.List(tt.opts)
			var ids []string
			for _, r := range res.Rules {
				ids = append(ids, r.ID)
			}
			if got := fmt.Sprint(ids); got != tt.wantIDs && !(tt.wantIDs == "[]" && len(ids) == 0) {
				t.Errorf("ids = %v, want %s", got, tt.wantIDs)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if res.PageSize != tt.wantSize {
				t.Errorf("PageSize = %d, want %d", res.PageSize, tt.wantSize)
			}
		})
	}
}

func TestRegistry_OnPublish(t *testing.T) {
	var versions []uint64
	reg := New(Config{OnPublish: func(s *Snapshot) { versions = append(versions, s.Version) }})
	if _, err := reg.Upsert(routingRule("a", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(versions) != "[1 2]" {
		t.Errorf("published versions = %v, want [1 2]", versions)
	}
}

func TestRegistry_ConcurrentReadersAndWriter(t *testing.T) {
	reg := New(Config{})
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := reg.Snapshot()
				routing := snap.Rules(rules.KindRouting)
				for j := 1; j < len(routing); j++ {
					if routing[j-1].Routing().Priority > routing[j].Routing().Priority {
						t.Errorf("snapshot %d out of order", snap.Version)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if _, err := reg.Upsert(routingRule(fmt.Sprintf("r%03d", i%50), 1+(i*37)%1000)); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
