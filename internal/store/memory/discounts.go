package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (s *Store) CreateDiscountRule(_ context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.state.checkRule(rule); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.state.nextRuleID++
	rule.ID = s.state.nextRuleID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.state.rules[rule.ID] = rule
	return &rule, nil
}

func (s *Store) GetDiscountRule(_ context.Context, id int64) (*domain.DiscountRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.state.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, id)
	}
	return &rule, nil
}

func (s *Store) ListDiscountRules(_ context.Context, filter domain.DiscountRuleFilter) ([]domain.DiscountRule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.DiscountRule, 0, len(s.state.rules))
	for _, rule := range s.state.rules {
		if filter.ActiveOnly && !rule.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rule.Name), search) {
			continue
		}
		matched = append(matched, rule)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *Store) UpdateDiscountRule(_ context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.rules[rule.ID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, rule.ID)
	}
	if err := s.state.checkRule(rule); err != nil {
		return nil, err
	}
	rule.CreatedAt = current.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	s.state.rules[rule.ID] = rule
	return &rule, nil
}

func (s *Store) DeleteDiscountRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.rules[id]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrDiscountNotFound, id)
	}
	delete(s.state.rules, id)
	return nil
}

// checkRule mirrors the postgres constraints: names are unique ignoring case
// and a targeted product must exist.
func (st *state) checkRule(rule domain.DiscountRule) error {
	for id, existing := range st.rules {
		if id != rule.ID && strings.EqualFold(existing.Name, rule.Name) {
			return fmt.Errorf("%w: discount rule %q already exists", store.ErrConflict, rule.Name)
		}
	}
	if rule.ProductID != nil {
		if _, ok := st.products[*rule.ProductID]; !ok {
			return fmt.Errorf("%w: id %d", store.ErrProductNotFound, *rule.ProductID)
		}
	}
	return nil
}
