// Package conflict resolves disagreeing StateVersion records for the same
// key into a single winner, using Last-Write-Wins, Vector-Clock dominance,
// or CRDT merge semantics.
package conflict

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Strategy names a conflict resolution algorithm.
type Strategy string

const (
	StrategyLWW    Strategy = "lww"
	StrategyVector Strategy = "vector"
	StrategyCRDT   Strategy = "crdt"
)

// MergedOrigin is the synthetic origin stamped on a CRDT merge result for
// counter, set, and map types.
const MergedOrigin = "__merged__"

// Resolver picks one StateVersion out of a conflicting set.
type Resolver struct{}

// NewResolver builds a Resolver. It carries no state: every resolution is
// a pure function of its inputs.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve chooses one StateVersion out of conflicts according to strategy.
func (r *Resolver) Resolve(strategy Strategy, key string, conflicts []*types.StateVersion) (*types.StateVersion, error) {
	if len(conflicts) == 0 {
		return nil, errors.New(errors.CodeInvalidConflicts, "conflict list is empty")
	}
	for _, c := range conflicts {
		if c.Key != key {
			return nil, errors.New(errors.CodeInvalidConflicts, "conflicting version for key "+c.Key+" does not match requested key "+key)
		}
	}

	switch strategy {
	case StrategyLWW:
		return resolveLWW(conflicts), nil
	case StrategyVector:
		return resolveVector(conflicts), nil
	case StrategyCRDT:
		return resolveCRDT(key, conflicts)
	default:
		return nil, errors.New(errors.CodeInvalidStrategy, "unknown conflict resolution strategy: "+string(strategy))
	}
}

// resolveLWW selects the element with the greatest timestamp; ties break
// on greater version, further ties on lexicographically greatest
// origin_agent_id.
func resolveLWW(conflicts []*types.StateVersion) *types.StateVersion {
	best := conflicts[0]
	for _, c := range conflicts[1:] {
		if lwwLess(best, c) {
			best = c
		}
	}
	return best
}

// lwwLess reports whether a loses to b under LWW ordering.
func lwwLess(a, b *types.StateVersion) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.OriginAgent < b.OriginAgent
}

// dominates reports whether a dominates b: a.vc[id] >= b.vc[id] for every
// id across the union of both clocks, with at least one strict inequality.
// A vector clock missing an entry is treated as 0 for that id.
func dominates(a, b map[string]int) bool {
	strict := false
	ids := make(map[string]bool, len(a)+len(b))
	for id := range a {
		ids[id] = true
	}
	for id := range b {
		ids[id] = true
	}
	for id := range ids {
		av, bv := a[id], b[id]
		if av < bv {
			return false
		}
		if av > bv {
			strict = true
		}
	}
	return strict
}

// resolveVector picks the single element whose vector clock dominates
// every other. If no single dominant element exists, it falls back to LWW
// over the full concurrent set.
func resolveVector(conflicts []*types.StateVersion) *types.StateVersion {
	clocks := make([]map[string]int, len(conflicts))
	for i, c := range conflicts {
		vc, ok := c.VectorClock()
		if !ok {
			vc = map[string]int{}
		}
		clocks[i] = vc
	}

	for i := range conflicts {
		dominatesAll := true
		for j := range conflicts {
			if i == j {
				continue
			}
			if !dominates(clocks[i], clocks[j]) {
				dominatesAll = false
				break
			}
		}
		if dominatesAll {
			return conflicts[i]
		}
	}

	return resolveLWW(conflicts)
}

func resolveCRDT(key string, conflicts []*types.StateVersion) (*types.StateVersion, error) {
	crdtType, ok := conflicts[0].CRDTTypeOf()
	if !ok {
		return nil, errors.New(errors.CodeInvalidCRDTType, "conflict carries no crdt_type metadata")
	}
	for _, c := range conflicts[1:] {
		ct, ok := c.CRDTTypeOf()
		if !ok || ct != crdtType {
			return nil, errors.New(errors.CodeInvalidCRDTType, "conflicting versions disagree on crdt_type")
		}
	}

	switch crdtType {
	case types.CRDTCounter:
		return mergeCounter(key, conflicts), nil
	case types.CRDTSet:
		return mergeSet(key, conflicts), nil
	case types.CRDTMap:
		return mergeMap(key, conflicts), nil
	case types.CRDTRegister:
		return resolveLWW(conflicts), nil
	default:
		return nil, errors.New(errors.CodeInvalidCRDTType, "unknown crdt_type: "+string(crdtType))
	}
}

func maxVersion(conflicts []*types.StateVersion) int64 {
	max := conflicts[0].Version
	for _, c := range conflicts[1:] {
		if c.Version > max {
			max = c.Version
		}
	}
	return max
}

func mergeCounter(key string, conflicts []*types.StateVersion) *types.StateVersion {
	var sum float64
	for _, c := range conflicts {
		sum += toFloat(c.Value)
	}
	return &types.StateVersion{
		Key:         key,
		Value:       sum,
		Version:     maxVersion(conflicts) + 1,
		Timestamp:   time.Now(),
		OriginAgent: MergedOrigin,
		Metadata:    map[string]any{"crdt_type": string(types.CRDTCounter)},
	}
}

func mergeSet(key string, conflicts []*types.StateVersion) *types.StateVersion {
	seen := make(map[string]bool)
	var out []any
	for _, c := range conflicts {
		for _, v := range toSlice(c.Value) {
			k := toComparableKey(v)
			if !seen[k] {
				seen[k] = true
				out = append(out, v)
			}
		}
	}
	return &types.StateVersion{
		Key:         key,
		Value:       out,
		Version:     maxVersion(conflicts) + 1,
		Timestamp:   time.Now(),
		OriginAgent: MergedOrigin,
		Metadata:    map[string]any{"crdt_type": string(types.CRDTSet)},
	}
}

// mergeMap merges per-key, taking for each field the value from whichever
// input carried the greatest timestamp for that field.
func mergeMap(key string, conflicts []*types.StateVersion) *types.StateVersion {
	type winner struct {
		value     any
		timestamp time.Time
	}
	merged := make(map[string]winner)

	for _, c := range conflicts {
		m := toMap(c.Value)
		for k, v := range m {
			w, exists := merged[k]
			if !exists || c.Timestamp.After(w.timestamp) {
				merged[k] = winner{value: v, timestamp: c.Timestamp}
			}
		}
	}

	out := make(map[string]any, len(merged))
	for k, w := range merged {
		out[k] = w.value
	}

	return &types.StateVersion{
		Key:         key,
		Value:       out,
		Version:     maxVersion(conflicts) + 1,
		Timestamp:   time.Now(),
		OriginAgent: MergedOrigin,
		Metadata:    map[string]any{"crdt_type": string(types.CRDTMap)},
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	default:
		return nil
	}
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func toComparableKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// DetectConflicts groups versions by Key and returns every key whose
// reporting agents disagree on value or version.
func DetectConflicts(states map[string]*types.StateVersion) []string {
	byKey := make(map[string][]*types.StateVersion)
	for _, v := range states {
		byKey[v.Key] = append(byKey[v.Key], v)
	}

	var conflicting []string
	for key, versions := range byKey {
		if len(versions) < 2 {
			continue
		}
		if anyDisagreement(versions) {
			conflicting = append(conflicting, key)
		}
	}

	sort.Strings(conflicting)
	return conflicting
}

func anyDisagreement(versions []*types.StateVersion) bool {
	first := versions[0]
	for _, v := range versions[1:] {
		if v.Version != first.Version || !valuesEqual(v.Value, first.Value) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
