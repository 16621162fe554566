// Package model defines the entities of the authorization graph: users, roles,
// privileges, applications, identity-provider connections, and access rules.
package model

import (
	"github.com/google/uuid"
)

// RuleType identifies the comparison operator of an access rule. The numeric
// values are part of the stored representation and must never be reordered;
// new operators may only be appended.
type RuleType int

// Rule operator values.
const (
	RuleTypeNotContains                  RuleType = 1
	RuleTypeNotContainsIgnoreCase        RuleType = 2
	RuleTypeNotEquals                    RuleType = 3
	RuleTypeAllEquals                    RuleType = 4
	RuleTypeAllContains                  RuleType = 5
	RuleTypeAllContainsIgnoreCase        RuleType = 6
	RuleTypeAnyContains                  RuleType = 7
	RuleTypeNotEqualsIgnoreCase          RuleType = 8
	RuleTypeAllEqualsIgnoreCase          RuleType = 9
	RuleTypeAnyEquals                    RuleType = 10
	RuleTypeAllRegMatch                  RuleType = 11
	RuleTypeAnyRegMatch                  RuleType = 12
	RuleTypeIsEmpty                      RuleType = 13
	RuleTypeIsNotEmpty                   RuleType = 14
	RuleTypeAllContainsOrEmpty           RuleType = 15
	RuleTypeAllContainsOrEmptyIgnoreCase RuleType = 16
)

var ruleTypeNames = map[RuleType]string{
	RuleTypeNotContains:                  "NOT_CONTAINS",
	RuleTypeNotContainsIgnoreCase:        "NOT_CONTAINS_IGNORE_CASE",
	RuleTypeNotEquals:                    "NOT_EQUALS",
	RuleTypeAllEquals:                    "ALL_EQUALS",
	RuleTypeAllContains:                  "ALL_CONTAINS",
	RuleTypeAllContainsIgnoreCase:        "ALL_CONTAINS_IGNORE_CASE",
	RuleTypeAnyContains:                  "ANY_CONTAINS",
	RuleTypeNotEqualsIgnoreCase:          "NOT_EQUALS_IGNORE_CASE",
	RuleTypeAllEqualsIgnoreCase:          "ALL_EQUALS_IGNORE_CASE",
	RuleTypeAnyEquals:                    "ANY_EQUALS",
	RuleTypeAllRegMatch:                  "ALL_REG_MATCH",
	RuleTypeAnyRegMatch:                  "ANY_REG_MATCH",
	RuleTypeIsEmpty:                      "IS_EMPTY",
	RuleTypeIsNotEmpty:                   "IS_NOT_EMPTY",
	RuleTypeAllContainsOrEmpty:           "ALL_CONTAINS_OR_EMPTY",
	RuleTypeAllContainsOrEmptyIgnoreCase: "ALL_CONTAINS_OR_EMPTY_IGNORE_CASE",
}

// String returns the symbolic operator name, or "UNKNOWN" for values outside
// the defined range. Unknown values are preserved, not rejected: a rule with an
// unrecognized operator fails open at evaluation time.
func (t RuleType) String() string {
	if name, ok := ruleTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// RuleTypeFromName resolves a symbolic operator name to its RuleType.
func RuleTypeFromName(name string) (RuleType, bool) {
	for t, n := range ruleTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// AccessRule is a single policy node. A rule carries a path expression into the
// request body, an operator, and a comparison value; it may additionally carry
// gates (prerequisite rules) and sub-rules (AND-combined conditions).
//
// MergedValues and MergedName are only populated on synthetic rules produced by
// the aggregator; they are never persisted.
type AccessRule struct {
	UUID        uuid.UUID `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	// Rule is the path expression selecting a location in the request body.
	// An empty path means the rule passes unconditionally.
	Rule string `json:"rule"`

	Type RuleType `json:"type"`

	// Value is the comparison operand. nil means the rule expects the
	// extracted value to be absent.
	Value *string `json:"value"`

	// MergedValues is the OR-set of values on a synthetic merged rule. A nil
	// member matches only an absent extracted value.
	MergedValues []*string `json:"-"`

	// MergedName records the provenance of a merged rule: "Merged|a|b|...".
	MergedName string `json:"-"`

	// Gates are evaluated before this rule. By default all gates must pass;
	// with GateAnyRelation a single passing gate suffices.
	Gates           []*AccessRule `json:"gates,omitempty"`
	GateAnyRelation bool          `json:"gateAnyRelation"`

	// SubRules are AND-combined with the rule itself once the gates pass.
	SubRules []*AccessRule `json:"subAccessRule,omitempty"`

	CheckMapKeyOnly     bool `json:"checkMapKeyOnly"`
	CheckMapNode        bool `json:"checkMapNode"`
	EvaluateOnlyByGates bool `json:"evaluateOnlyByGates"`
}

// NewAccessRule constructs a rule with a fresh UUID. The four behavioral flags
// default to false, matching what decoding external input into the zero value
// produces.
func NewAccessRule(name, rule string, ruleType RuleType, value *string) *AccessRule {
	return &AccessRule{
		UUID:  uuid.New(),
		Name:  name,
		Rule:  rule,
		Type:  ruleType,
		Value: value,
	}
}

// IsMerged reports whether this is a synthetic rule produced by aggregation.
func (r *AccessRule) IsMerged() bool {
	return len(r.MergedValues) > 0
}

// DisplayName returns the merged provenance name when present, the rule name
// otherwise. Audit log lines identify rules by this name.
func (r *AccessRule) DisplayName() string {
	if r.MergedName != "" {
		return r.MergedName
	}
	return r.Name
}

// Clone returns a deep copy of the rule. Gates are shared (they are identified
// by UUID and never mutated during aggregation), sub-rules and merged values
// are copied. The aggregator clones rules so that synthetic merged rules never
// alias stored configuration.
func (r *AccessRule) Clone() *AccessRule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Gates = append([]*AccessRule(nil), r.Gates...)
	cp.SubRules = append([]*AccessRule(nil), r.SubRules...)
	cp.MergedValues = append([]*string(nil), r.MergedValues...)
	return &cp
}
