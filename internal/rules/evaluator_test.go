package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/openmedgrid/authz-server/internal/model"
)

func evalJSON(t *testing.T, doc string, rule *model.AccessRule) bool {
	t.Helper()
	return Evaluate(gjson.Parse(doc), rule)
}

func TestEvaluateLeafString(t *testing.T) {
	t.Parallel()

	rule := model.NewAccessRule("study", "$.query.study", model.RuleTypeAllEquals, strPtr("phs000001"))

	assert.True(t, evalJSON(t, `{"query":{"study":"phs000001"}}`, rule))
	assert.False(t, evalJSON(t, `{"query":{"study":"phs000002"}}`, rule))
}

func TestEvaluateEmptyPathPasses(t *testing.T) {
	t.Parallel()

	rule := model.NewAccessRule("noop", "", model.RuleTypeAllEquals, strPtr("never"))
	assert.True(t, evalJSON(t, `{"anything":"at all"}`, rule))
}

func TestEvaluateMissingPath(t *testing.T) {
	t.Parallel()

	// A path that resolves to nothing passes only an IS_EMPTY rule.
	isEmpty := model.NewAccessRule("empty", "$.query.filter", model.RuleTypeIsEmpty, nil)
	assert.True(t, evalJSON(t, `{"query":{}}`, isEmpty))

	equals := model.NewAccessRule("eq", "$.query.filter", model.RuleTypeAllEquals, strPtr("x"))
	assert.False(t, evalJSON(t, `{"query":{}}`, equals))

	isNotEmpty := model.NewAccessRule("notempty", "$.query.filter", model.RuleTypeIsNotEmpty, nil)
	assert.False(t, evalJSON(t, `{"query":{}}`, isNotEmpty))
}

func TestEvaluateWildcardProjectionPath(t *testing.T) {
	t.Parallel()

	// Stored rules spell collection paths with a trailing ".[*]" projection.
	rule := model.NewAccessRule("fields", "$.query.query.fields.[*]",
		model.RuleTypeAllContains, strPtr(`\study\`))

	assert.True(t, evalJSON(t,
		`{"query":{"query":{"fields":["\\study\\age","\\study\\sex"]}}}`, rule))
	assert.False(t, evalJSON(t,
		`{"query":{"query":{"fields":["\\study\\age","\\other\\sex"]}}}`, rule))
}

func TestEvaluateEmptinessOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		typ  model.RuleType
		want bool
	}{
		{"is_empty on null", `{"v":null}`, model.RuleTypeIsEmpty, true},
		{"is_empty on empty array", `{"v":[]}`, model.RuleTypeIsEmpty, true},
		{"is_empty on empty object", `{"v":{}}`, model.RuleTypeIsEmpty, true},
		{"is_empty on value", `{"v":"x"}`, model.RuleTypeIsEmpty, false},
		{"is_not_empty on value", `{"v":"x"}`, model.RuleTypeIsNotEmpty, true},
		{"is_not_empty on empty string", `{"v":""}`, model.RuleTypeIsNotEmpty, false},
		{"is_not_empty on number", `{"v":0}`, model.RuleTypeIsNotEmpty, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := model.NewAccessRule("r", "$.v", tt.typ, nil)
			assert.Equal(t, tt.want, evalJSON(t, tt.doc, rule))
		})
	}
}

func TestEvaluateCollectionAny(t *testing.T) {
	t.Parallel()

	rule := model.NewAccessRule("any", "$.fields", model.RuleTypeAnyEquals, strPtr("age"))

	assert.True(t, evalJSON(t, `{"fields":["sex","age"]}`, rule))
	assert.False(t, evalJSON(t, `{"fields":["sex","height"]}`, rule))
	assert.False(t, evalJSON(t, `{"fields":[]}`, rule))

	// ANY recurses into nested arrays.
	assert.True(t, evalJSON(t, `{"fields":[["sex"],["age"]]}`, rule))
}

func TestEvaluateCollectionAll(t *testing.T) {
	t.Parallel()

	rule := model.NewAccessRule("all", "$.fields", model.RuleTypeAllContains, strPtr("phs000001"))

	assert.True(t, evalJSON(t, `{"fields":["phs000001\\a","phs000001\\b"]}`, rule))
	assert.False(t, evalJSON(t, `{"fields":["phs000001\\a","phs000002\\b"]}`, rule))
}

func TestEvaluateEmptyCollectionPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  model.RuleType
		want bool
	}{
		{"all_equals fails on empty", model.RuleTypeAllEquals, false},
		{"all_equals_ignore_case fails on empty", model.RuleTypeAllEqualsIgnoreCase, false},
		{"all_contains fails on empty", model.RuleTypeAllContains, false},
		{"all_contains_ignore_case fails on empty", model.RuleTypeAllContainsIgnoreCase, false},
		{"all_contains_or_empty passes on empty", model.RuleTypeAllContainsOrEmpty, true},
		{"all_contains_or_empty_ignore_case passes on empty", model.RuleTypeAllContainsOrEmptyIgnoreCase, true},
		{"not_equals passes on empty", model.RuleTypeNotEquals, true},
		{"unknown passes on empty", model.RuleType(42), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := model.NewAccessRule("r", "$.fields", tt.typ, strPtr("x"))
			assert.Equal(t, tt.want, evalJSON(t, `{"fields":[]}`, rule))
		})
	}
}

func TestEvaluateMapNode(t *testing.T) {
	t.Parallel()

	doc := `{"categoryFilters":{"phs000001\\consent":"yes"}}`

	// Objects are opaque unless CheckMapNode is set.
	opaque := model.NewAccessRule("opaque", "$.categoryFilters", model.RuleTypeAllContains, strPtr("nomatch"))
	assert.True(t, evalJSON(t, doc, opaque))

	keysAndValues := model.NewAccessRule("deep", "$.categoryFilters", model.RuleTypeAllContains, strPtr("phs000001"))
	keysAndValues.CheckMapNode = true
	// The key contains phs000001 but the value "yes" does not.
	assert.False(t, evalJSON(t, doc, keysAndValues))

	keysOnly := model.NewAccessRule("keys", "$.categoryFilters", model.RuleTypeAllContains, strPtr("phs000001"))
	keysOnly.CheckMapNode = true
	keysOnly.CheckMapKeyOnly = true
	assert.True(t, evalJSON(t, doc, keysOnly))

	badKey := model.NewAccessRule("badkey", "$.categoryFilters", model.RuleTypeAllContains, strPtr("phs000002"))
	badKey.CheckMapNode = true
	badKey.CheckMapKeyOnly = true
	assert.False(t, evalJSON(t, doc, badKey))
}

func TestEvaluateMapAnyOperator(t *testing.T) {
	t.Parallel()

	doc := `{"filters":{"alpha":"beta"}}`

	rule := model.NewAccessRule("anykey", "$.filters", model.RuleTypeAnyEquals, strPtr("alpha"))
	rule.CheckMapNode = true
	assert.True(t, evalJSON(t, doc, rule))

	byValue := model.NewAccessRule("anyvalue", "$.filters", model.RuleTypeAnyEquals, strPtr("beta"))
	byValue.CheckMapNode = true
	assert.True(t, evalJSON(t, doc, byValue))

	byValue.CheckMapKeyOnly = true
	assert.False(t, evalJSON(t, doc, byValue))
}

func TestEvaluateScalarOpaque(t *testing.T) {
	t.Parallel()

	// Numbers and booleans are outside the comparators' domain and pass.
	rule := model.NewAccessRule("r", "$.v", model.RuleTypeAllEquals, strPtr("42"))
	assert.True(t, evalJSON(t, `{"v":42}`, rule))
	assert.True(t, evalJSON(t, `{"v":true}`, rule))
}

func TestEvaluateGatesAllRelation(t *testing.T) {
	t.Parallel()

	gatePass := model.NewAccessRule("gate-pass", "$.type", model.RuleTypeAllEquals, strPtr("query"))
	gateFail := model.NewAccessRule("gate-fail", "$.type", model.RuleTypeAllEquals, strPtr("export"))

	rule := model.NewAccessRule("r", "$.study", model.RuleTypeAllEquals, strPtr("phs000001"))
	rule.Gates = []*model.AccessRule{gatePass, gateFail}

	assert.False(t, evalJSON(t, `{"type":"query","study":"phs000001"}`, rule))

	rule.Gates = []*model.AccessRule{gatePass}
	assert.True(t, evalJSON(t, `{"type":"query","study":"phs000001"}`, rule))
}

func TestEvaluateGatesAnyRelation(t *testing.T) {
	t.Parallel()

	gateA := model.NewAccessRule("gate-a", "$.type", model.RuleTypeAllEquals, strPtr("query"))
	gateB := model.NewAccessRule("gate-b", "$.type", model.RuleTypeAllEquals, strPtr("export"))

	rule := model.NewAccessRule("r", "$.study", model.RuleTypeAllEquals, strPtr("phs000001"))
	rule.Gates = []*model.AccessRule{gateA, gateB}
	rule.GateAnyRelation = true

	assert.True(t, evalJSON(t, `{"type":"export","study":"phs000001"}`, rule))
	assert.False(t, evalJSON(t, `{"type":"delete","study":"phs000001"}`, rule))
}

func TestEvaluateOnlyByGates(t *testing.T) {
	t.Parallel()

	gate := model.NewAccessRule("gate", "$.type", model.RuleTypeAllEquals, strPtr("query"))

	// The rule's own condition would fail, but it is never consulted.
	rule := model.NewAccessRule("r", "$.study", model.RuleTypeAllEquals, strPtr("never"))
	rule.Gates = []*model.AccessRule{gate}
	rule.EvaluateOnlyByGates = true

	assert.True(t, evalJSON(t, `{"type":"query","study":"phs000001"}`, rule))
	assert.False(t, evalJSON(t, `{"type":"export","study":"phs000001"}`, rule))
}

func TestEvaluateSubRules(t *testing.T) {
	t.Parallel()

	sub := model.NewAccessRule("sub", "$.consent", model.RuleTypeAllEquals, strPtr("granted"))

	rule := model.NewAccessRule("r", "$.study", model.RuleTypeAllEquals, strPtr("phs000001"))
	rule.SubRules = []*model.AccessRule{sub}

	assert.True(t, evalJSON(t, `{"study":"phs000001","consent":"granted"}`, rule))
	assert.False(t, evalJSON(t, `{"study":"phs000001","consent":"denied"}`, rule))
}
