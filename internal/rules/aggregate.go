package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// mergedNamePrefix marks the provenance name of a synthetic merged rule.
const mergedNamePrefix = "Merged|"

// Aggregate flattens the access rules of the given privileges and merges
// structurally identical rules into synthetic rules whose MergedValues carry
// the OR-set of all contributed values. The result is the minimal rule set the
// authorizer evaluates with OR semantics: evaluation cost is bounded by the
// number of distinct rule shapes, not the number of privileges, which matters
// when many privileges produce the same rule differing only in its value.
//
// Returned rules are deep copies; aggregation never mutates stored
// configuration. Output order is deterministic (sorted by merge key).
func Aggregate(privileges []*model.Privilege) []*model.AccessRule {
	seen := make(map[uuid.UUID]struct{})
	var flattened []*model.AccessRule
	for _, p := range privileges {
		for _, r := range p.AccessRules {
			if _, ok := seen[r.UUID]; ok {
				continue
			}
			seen[r.UUID] = struct{}{}
			flattened = append(flattened, r)
		}
	}
	return mergeByShape(flattened)
}

// mergeByShape groups rules by merge key and folds each group into one
// synthetic rule.
func mergeByShape(accessRules []*model.AccessRule) []*model.AccessRule {
	groups := make(map[string][]*model.AccessRule)
	for _, r := range accessRules {
		key := mergeKey(r)
		groups[key] = append(groups[key], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make([]*model.AccessRule, 0, len(groups))
	for _, k := range keys {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		merged = append(merged, foldGroup(group))
	}
	return merged
}

// mergeKey computes the shape identity of a rule: its path, operator, gate
// UUIDs, sub-rule paths, and the four behavioral flags, as an ordered
// deduplicated concatenation. Two rules with the same key differ only in their
// comparison value.
func mergeKey(r *model.AccessRule) string {
	parts := map[string]struct{}{
		r.Rule:                                    {},
		strconv.Itoa(int(r.Type)):                 {},
		strconv.FormatBool(r.CheckMapKeyOnly):     {},
		strconv.FormatBool(r.CheckMapNode):        {},
		strconv.FormatBool(r.EvaluateOnlyByGates): {},
		strconv.FormatBool(r.GateAnyRelation):     {},
	}
	for _, gate := range r.Gates {
		parts[gate.UUID.String()] = struct{}{}
	}
	for _, sub := range r.SubRules {
		parts[sub.Rule] = struct{}{}
	}

	ordered := make([]string, 0, len(parts))
	for p := range parts {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)
	return strings.Join(ordered, "")
}

// foldGroup merges a group of same-shape rules into one synthetic rule. The
// first member is the base; every member contributes its value (possibly nil)
// to MergedValues and its sub-rules to the union. Groups of two or more get a
// "Merged|a|b|..." provenance name.
func foldGroup(group []*model.AccessRule) *model.AccessRule {
	base := group[0].Clone()
	base.MergedValues = appendValue(base.MergedValues, base.Value)

	for _, next := range group[1:] {
		base.SubRules = unionSubRules(base.SubRules, next.SubRules)
		base.MergedValues = appendValue(base.MergedValues, next.Value)
		if strings.HasPrefix(base.MergedName, mergedNamePrefix) {
			base.MergedName = base.MergedName + "|" + next.Name
		} else {
			base.MergedName = mergedNamePrefix + base.Name + "|" + next.Name
		}
	}
	return base
}

// appendValue adds a value to the merged OR-set, keeping it duplicate-free.
// A nil member is legal and matches only an absent extracted value.
func appendValue(values []*string, v *string) []*string {
	for _, existing := range values {
		if existing == nil && v == nil {
			return values
		}
		if existing != nil && v != nil && *existing == *v {
			return values
		}
	}
	return append(values, v)
}

func unionSubRules(existing, incoming []*model.AccessRule) []*model.AccessRule {
	seen := make(map[uuid.UUID]struct{}, len(existing))
	for _, r := range existing {
		seen[r.UUID] = struct{}{}
	}
	for _, r := range incoming {
		if _, ok := seen[r.UUID]; ok {
			continue
		}
		seen[r.UUID] = struct{}{}
		existing = append(existing, r)
	}
	return existing
}
