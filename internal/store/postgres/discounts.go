package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

const discountRuleColumns = `id, name, scope, product_id, min_quantity, min_subtotal, value_type, value,
	starts_at, ends_at, is_active, created_at, updated_at`

func (s *Store) CreateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	var created domain.DiscountRule
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO discount_rules (name, scope, product_id, min_quantity, min_subtotal, value_type, value,
			starts_at, ends_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+discountRuleColumns,
		rule.Name, rule.Scope, rule.ProductID, rule.MinQuantity, rule.MinSubtotal, rule.ValueType, rule.Value,
		rule.StartsAt, rule.EndsAt, rule.IsActive,
	).StructScan(&created)
	if err != nil {
		return nil, ruleWriteError(err, rule)
	}
	return &created, nil
}

func (s *Store) GetDiscountRule(ctx context.Context, id int64) (*domain.DiscountRule, error) {
	var rule domain.DiscountRule
	err := s.db.GetContext(ctx, &rule, `SELECT `+discountRuleColumns+` FROM discount_rules WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, id)
		}
		return nil, err
	}
	return &rule, nil
}

func (s *Store) ListDiscountRules(ctx context.Context, filter domain.DiscountRuleFilter) ([]domain.DiscountRule, int, error) {
	conditions := []string{"TRUE"}
	params := map[string]any{}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		conditions = append(conditions, "name ILIKE :search")
		params["search"] = "%" + search + "%"
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.namedGet(ctx, &total, `SELECT count(*) FROM discount_rules`+where, params); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + discountRuleColumns + ` FROM discount_rules` + where + ` ORDER BY id` + pageClause(filter.Page, filter.Limit)
	rules := make([]domain.DiscountRule, 0, 16)
	if err := s.namedSelect(ctx, &rules, query, params); err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *Store) UpdateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	var updated domain.DiscountRule
	err := s.db.QueryRowxContext(ctx, `
		UPDATE discount_rules
		SET name = $2, scope = $3, product_id = $4, min_quantity = $5, min_subtotal = $6, value_type = $7,
			value = $8, starts_at = $9, ends_at = $10, is_active = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+discountRuleColumns,
		rule.ID, rule.Name, rule.Scope, rule.ProductID, rule.MinQuantity, rule.MinSubtotal, rule.ValueType,
		rule.Value, rule.StartsAt, rule.EndsAt, rule.IsActive,
	).StructScan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, rule.ID)
		}
		return nil, ruleWriteError(err, rule)
	}
	return &updated, nil
}

func (s *Store) DeleteDiscountRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM discount_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, id))
}

func ruleWriteError(err error, rule domain.DiscountRule) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: discount rule %q already exists", store.ErrConflict, rule.Name)
	case isForeignKeyViolation(err) && rule.ProductID != nil:
		return fmt.Errorf("%w: id %d", store.ErrProductNotFound, *rule.ProductID)
	case isCheckViolation(err):
		return fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	return err
}
