package rules

import (
	"github.com/tidwall/gjson"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// Evaluate decides whether one access rule admits the parsed request body.
//
// Gates run first: with the default AND relation every gate must pass, with
// GateAnyRelation a single passing gate suffices. A rule flagged
// EvaluateOnlyByGates returns the gate outcome directly and never consults its
// own path, value, or sub-rules. Otherwise the rule's own condition and every
// sub-rule must all hold.
func Evaluate(body gjson.Result, rule *model.AccessRule) bool {
	gatesPassed := true
	if len(rule.Gates) > 0 {
		if !rule.GateAnyRelation {
			for _, gate := range rule.Gates {
				if !Evaluate(body, gate) {
					logger.Debugf("gate %s failed: %s :: %s", gate.Name, gate.Rule, gate.Type)
					gatesPassed = false
					break
				}
			}
		} else {
			gatesPassed = false
			for _, gate := range rule.Gates {
				if Evaluate(body, gate) {
					gatesPassed = true
					break
				}
			}
		}
	}

	if rule.EvaluateOnlyByGates {
		return gatesPassed
	}
	if !gatesPassed {
		return false
	}

	if !extractAndCheck(body, rule) {
		logger.Debugf("request rejected by rule %s :: %s :: %s", rule.Rule, rule.Type, rule.DisplayName())
		return false
	}
	for _, sub := range rule.SubRules {
		if !extractAndCheck(body, sub) {
			logger.Debugf("request rejected by sub-rule %s :: %s :: %s", sub.Rule, sub.Type, sub.DisplayName())
			return false
		}
	}
	return true
}

// extractAndCheck resolves the rule's path against the body and checks the
// extracted value. An empty path passes unconditionally. A path that resolves
// to nothing passes only an IS_EMPTY rule.
func extractAndCheck(body gjson.Result, rule *model.AccessRule) bool {
	if rule.Rule == "" {
		return true
	}

	value, found := extract(body, rule.Rule)
	if !found {
		return rule.Type == model.RuleTypeIsEmpty
	}

	if rule.Type == model.RuleTypeIsEmpty || rule.Type == model.RuleTypeIsNotEmpty {
		if isEmptyValue(value) {
			return rule.Type == model.RuleTypeIsEmpty
		}
		return rule.Type == model.RuleTypeIsNotEmpty
	}

	return evaluateNode(value, rule)
}

// evaluateNode dispatches on the shape of the extracted value. Strings go to
// the leaf comparator, arrays and maps recurse, an explicit null compares as an
// absent value, and any other shape (numbers, booleans, maps with
// CheckMapNode unset) is opaque and passes.
func evaluateNode(value gjson.Result, rule *model.AccessRule) bool {
	switch {
	case value.Type == gjson.String:
		return decide(rule, &value.Str)
	case value.Type == gjson.Null:
		return decide(rule, nil)
	case value.IsArray():
		return evaluateCollection(value.Array(), rule)
	case value.IsObject() && rule.CheckMapNode:
		return evaluateMap(value.Map(), rule)
	default:
		return true
	}
}

func isAnyOperator(t model.RuleType) bool {
	return t == model.RuleTypeAnyEquals || t == model.RuleTypeAnyContains || t == model.RuleTypeAnyRegMatch
}

// passesWhenEmpty is the empty-collection policy for the AND-family operators:
// the strict ALL variants fail on an empty collection, the OR_EMPTY variants
// and anything unrecognized pass.
func passesWhenEmpty(t model.RuleType) bool {
	switch t {
	case model.RuleTypeAllEquals, model.RuleTypeAllEqualsIgnoreCase,
		model.RuleTypeAllContains, model.RuleTypeAllContainsIgnoreCase:
		return false
	default:
		return true
	}
}

func evaluateCollection(items []gjson.Result, rule *model.AccessRule) bool {
	if isAnyOperator(rule.Type) {
		for _, item := range items {
			if evaluateNode(item, rule) {
				return true
			}
		}
		return false
	}

	if len(items) == 0 {
		return passesWhenEmpty(rule.Type)
	}
	for _, item := range items {
		if !evaluateNode(item, rule) {
			return false
		}
	}
	return true
}

// evaluateMap walks a map-shaped value. Keys are always checked; values are
// also checked (recursively) unless CheckMapKeyOnly is set.
func evaluateMap(entries map[string]gjson.Result, rule *model.AccessRule) bool {
	if isAnyOperator(rule.Type) {
		for key, val := range entries {
			k := key
			if decide(rule, &k) {
				return true
			}
			if !rule.CheckMapKeyOnly && evaluateNode(val, rule) {
				return true
			}
		}
		return false
	}

	if len(entries) == 0 {
		return passesWhenEmpty(rule.Type)
	}
	for key, val := range entries {
		k := key
		if !decide(rule, &k) {
			return false
		}
		if !rule.CheckMapKeyOnly && !evaluateNode(val, rule) {
			return false
		}
	}
	return true
}
