package rules

import (
	"regexp"
	"strings"

	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// decide is the leaf-level comparator. actual is the extracted value, nil when
// the path resolved to an explicit null. On a merged rule the members of
// MergedValues form an OR-set; otherwise the rule's own value is compared.
func decide(rule *model.AccessRule, actual *string) bool {
	if !rule.IsMerged() {
		if rule.Value == nil {
			return actual == nil
		}
		if actual == nil {
			return false
		}
		return compare(rule.Type, *actual, *rule.Value)
	}

	for _, v := range rule.MergedValues {
		if v == nil {
			if actual == nil {
				return true
			}
			continue
		}
		if actual == nil {
			continue
		}
		if compare(rule.Type, *actual, *v) {
			return true
		}
	}
	return false
}

// compare applies one operator to an extracted string and a rule value. The
// ANY/ALL distinction lives in the collection dispatch, not here: ANY_EQUALS
// and ALL_EQUALS are both plain equality at the leaf.
func compare(t model.RuleType, actual, value string) bool {
	switch t {
	case model.RuleTypeNotContains:
		return !strings.Contains(actual, value)
	case model.RuleTypeNotContainsIgnoreCase:
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	case model.RuleTypeNotEquals:
		return value != actual
	case model.RuleTypeAnyEquals, model.RuleTypeAllEquals:
		return value == actual
	case model.RuleTypeAllContains, model.RuleTypeAnyContains, model.RuleTypeAllContainsOrEmpty:
		return strings.Contains(actual, value)
	case model.RuleTypeAllContainsIgnoreCase, model.RuleTypeAllContainsOrEmptyIgnoreCase:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	case model.RuleTypeNotEqualsIgnoreCase:
		return !strings.EqualFold(value, actual)
	case model.RuleTypeAllEqualsIgnoreCase:
		return strings.EqualFold(value, actual)
	case model.RuleTypeAllRegMatch, model.RuleTypeAnyRegMatch:
		return regMatch(actual, value)
	default:
		logger.Warnf("access rule operator %d is out of scope, passing", t)
		return true
	}
}

// regMatch performs a full-string regular expression match. A pattern that
// fails to compile is a configuration defect and fails the comparison rather
// than raising.
func regMatch(actual, pattern string) bool {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		logger.Warnf("access rule regex %q does not compile: %v", pattern, err)
		return false
	}
	return re.MatchString(actual)
}
