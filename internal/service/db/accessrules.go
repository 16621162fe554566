package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/model"
)

// FindAccessRuleByID resolves an access rule with its gates and sub-rules.
func (s *Store) FindAccessRuleByID(ctx context.Context, id uuid.UUID) (*model.AccessRule, error) {
	var rule *model.AccessRule
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		r, err := newGraphLoader(tx).accessRule(ctx, id)
		if err != nil {
			return err
		}
		rule = r
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rule, nil
}

// FindAccessRuleByName resolves an access rule by its unique name.
func (s *Store) FindAccessRuleByName(ctx context.Context, name string) (*model.AccessRule, error) {
	var rule *model.AccessRule
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT uuid FROM access_rules WHERE name = $1", name).Scan(&raw); err != nil {
			return err
		}
		id, err := scanUUID(raw)
		if err != nil {
			return err
		}
		r, err := newGraphLoader(tx).accessRule(ctx, id)
		if err != nil {
			return err
		}
		rule = r
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rule, nil
}

// SaveAccessRule upserts the rule row and replaces its gate and sub-rule
// references. Referenced rules must already be persisted.
func (s *Store) SaveAccessRule(ctx context.Context, rule *model.AccessRule) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO access_rules (uuid, name, description, rule, type, value,
			    check_map_key_only, check_map_node, evaluate_only_by_gates, gate_any_relation)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (uuid) DO UPDATE SET
			    name = EXCLUDED.name,
			    description = EXCLUDED.description,
			    rule = EXCLUDED.rule,
			    type = EXCLUDED.type,
			    value = EXCLUDED.value,
			    check_map_key_only = EXCLUDED.check_map_key_only,
			    check_map_node = EXCLUDED.check_map_node,
			    evaluate_only_by_gates = EXCLUDED.evaluate_only_by_gates,
			    gate_any_relation = EXCLUDED.gate_any_relation`,
			rule.UUID, rule.Name, rule.Description, rule.Rule, int(rule.Type),
			nullableString(rule.Value), rule.CheckMapKeyOnly, rule.CheckMapNode,
			rule.EvaluateOnlyByGates, rule.GateAnyRelation)
		if err != nil {
			return fmt.Errorf("failed to save access rule %s: %w", rule.UUID, err)
		}

		gateRefs := make([]uuid.UUID, 0, len(rule.Gates))
		for _, g := range rule.Gates {
			gateRefs = append(gateRefs, g.UUID)
		}
		if err := replaceLinks(ctx, tx, "access_rule_gates", "rule_uuid", "gate_uuid", rule.UUID, gateRefs); err != nil {
			return err
		}

		subRefs := make([]uuid.UUID, 0, len(rule.SubRules))
		for _, sub := range rule.SubRules {
			subRefs = append(subRefs, sub.UUID)
		}
		return replaceLinks(ctx, tx, "access_rule_subrules", "rule_uuid", "sub_uuid", rule.UUID, subRefs)
	})
	return mapError(err)
}

// DeleteAccessRule removes a rule; gate, sub-rule, and privilege links
// cascade.
func (s *Store) DeleteAccessRule(ctx context.Context, id uuid.UUID) error {
	err := s.writeTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM access_rules WHERE uuid = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete access rule %s: %w", id, err)
		}
		return requireAffected(res)
	})
	return mapError(err)
}

// ListAccessRules returns every rule with its gates and sub-rules.
func (s *Store) ListAccessRules(ctx context.Context) ([]*model.AccessRule, error) {
	var rules []*model.AccessRule
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT uuid FROM access_rules ORDER BY name")
		if err != nil {
			return fmt.Errorf("failed to list access rules: %w", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return err
		}
		loader := newGraphLoader(tx)
		for _, id := range ids {
			r, err := loader.accessRule(ctx, id)
			if err != nil {
				return err
			}
			rules = append(rules, r)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return rules, nil
}
