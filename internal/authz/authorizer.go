// Package authz implements the authorization decision service: given a
// resolved user, a target application, and a parsed request body, it decides
// whether the request is permitted by the user's privilege graph.
package authz

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openmedgrid/authz-server/internal/cache"
	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/rules"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

// Authorizer decides authorization requests. Merged rule sets are cached per
// user subject and application; the cache is filled as a side effect of the
// first decision and cleared only through the eviction coordinator.
//
// The privilege layering is role -> privilege -> access rule. Roles and
// privileges are OR-related: between top-level (merged) access rules a single
// pass grants. Inside one access rule, gates guard the rule and sub-rules are
// AND-combined with it.
type Authorizer struct {
	ruleCache *cache.RuleCache
}

// NewAuthorizer creates an authorizer over the given merged-rules cache.
func NewAuthorizer(ruleCache *cache.RuleCache) *Authorizer {
	return &Authorizer{ruleCache: ruleCache}
}

// IsAuthorized decides whether the user may send the given request body to the
// application. requestBody is the raw JSON forwarded by the calling
// application; nil means the caller chose not to forward a body to check.
//
// For users from a strict connection the implicit-trust short circuits invert:
// absence of privileges and an empty aggregated rule set both deny, and a
// denial evicts the user's cached rule set so the next request re-aggregates.
func (a *Authorizer) IsAuthorized(application *model.Application, requestBody []byte, user *model.User) bool {
	strict := user.Connection != nil && user.Connection.Strict
	granted := a.decide(application, requestBody, user, strict)
	if !granted && strict {
		logger.Warnf("user %s not authorized, clearing merged rules entry", user.Subject)
		a.ruleCache.Evict(user.Subject)
	}
	return granted
}

func (a *Authorizer) decide(application *model.Application, requestBody []byte, user *model.User, strict bool) bool {
	applicationName := application.Name

	if requestBody == nil {
		a.auditLog(user, true, applicationName, "", "NO REQUEST BODY FORWARDED BY APPLICATION")
		return true
	}

	body := gjson.ParseBytes(requestBody)
	formattedQuery := formatQueryForLog(body, requestBody)

	privileges := user.PrivilegesByApplication(application)
	if len(privileges) == 0 {
		if !strict {
			// The application has privileges (checked by the caller), the user
			// has none under it.
			a.auditLog(user, false, applicationName, formattedQuery,
				"USER HAS NO PRIVILEGES ASSOCIATED TO THE APPLICATION, BUT APPLICATION HAS PRIVILEGES")
			return false
		}
	}

	mergedRules := a.mergedRulesFor(user, application, privileges)
	if len(mergedRules) == 0 {
		if strict {
			a.auditLog(user, false, applicationName, formattedQuery, "NO ACCESS RULES EVALUATED")
			return false
		}
		// Privileges exist but impose no constraints.
		a.auditLog(user, true, applicationName, formattedQuery, "NO ACCESS RULES EVALUATED")
		return true
	}

	// Top-level merged rules are OR-related: first pass grants.
	var passedBy *model.AccessRule
	var failed []*model.AccessRule
	for _, rule := range mergedRules {
		if rules.Evaluate(body, rule) {
			passedBy = rule
			break
		}
		failed = append(failed, rule)
	}

	if passedBy != nil {
		a.auditLog(user, true, applicationName, formattedQuery, "passed by "+passedBy.DisplayName())
		return true
	}
	names := make([]string, 0, len(failed))
	for _, rule := range failed {
		names = append(names, rule.DisplayName())
	}
	a.auditLog(user, false, applicationName, formattedQuery, "failed by rules: ["+strings.Join(names, ", ")+"]")
	return false
}

// mergedRulesFor returns the aggregated rule set for the user and application,
// from cache when present.
func (a *Authorizer) mergedRulesFor(user *model.User, application *model.Application, privileges []*model.Privilege) []*model.AccessRule {
	if cached, ok := a.ruleCache.Get(user.Subject, application.UUID); ok {
		return cached
	}
	merged := rules.Aggregate(privileges)
	a.ruleCache.Put(user.Subject, application.UUID, merged)
	return merged
}

// auditLog emits the structured grant/deny line. Every decision is logged with
// enough context to reconstruct why, without secrets.
func (a *Authorizer) auditLog(user *model.User, granted bool, applicationName, formattedQuery, detail string) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	logger.Infof("ACCESS_LOG ___ %s,%s,%s ___ has been %s access to execute query ___ %s ___ in application ___ %s ___ %s",
		user.UUID, user.Email, user.Subject, outcome, formattedQuery, applicationName, detail)
}

// formatQueryForLog prefers the caller-supplied formattedQuery field when the
// body carries one; it can mask data and is only used for logging.
func formatQueryForLog(body gjson.Result, raw []byte) string {
	if fq := body.Get("formattedQuery"); fq.Type == gjson.String && fq.Str != "" {
		return fq.Str
	}
	return string(raw)
}
