package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID < 1 {
		return domain.Actor{}, store.ErrUnauthenticated
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

type Options struct {
	TaxRate       decimal.Decimal
	InvoicePrefix string
	Cache         cache.SaleCache
	CacheTTL      time.Duration
	Locker        cache.SaleLocker
	Logger        *zap.Logger
}

type Service struct {
	repo          store.Repository
	taxRate       decimal.Decimal
	invoicePrefix string
	cache         cache.SaleCache
	cacheTTL      time.Duration
	locker        cache.SaleLocker
	logger        *zap.Logger
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.InvoicePrefix == "" {
		opts.InvoicePrefix = "POS"
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopSaleCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = cache.NoopSaleLocker{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		repo:          repo,
		taxRate:       opts.TaxRate,
		invoicePrefix: opts.InvoicePrefix,
		cache:         opts.Cache,
		cacheTTL:      opts.CacheTTL,
		locker:        opts.Locker,
		logger:        opts.Logger.Named("service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// TaxRate is the system-owned rate applied to every sale.
func (s *Service) TaxRate() decimal.Decimal {
	return s.taxRate
}

// mutateSale runs fn inside a transaction holding the per-sale lock, then
// drops the cached copy of the sale.
func (s *Service) mutateSale(ctx context.Context, saleID int64, fn func(tx store.Tx) error) error {
	release, err := s.locker.Lock(ctx, saleID)
	defer release()
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return fmt.Errorf("%w: sale %d is being modified by another request", store.ErrConflict, saleID)
		}
		return err
	}

	err = s.repo.WithinTx(ctx, fn)
	s.invalidate(ctx, saleID)
	return err
}

func (s *Service) invalidate(ctx context.Context, saleID int64) {
	if err := s.cache.Delete(ctx, saleID); err != nil {
		s.logger.Warn("drop cached sale", zap.Int64("sale_id", saleID), zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorID:       actor.UserID,
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      fmt.Sprintf("%d", entityID),
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", fmt.Sprintf("%s/%d", entityType, entityID)),
			zap.Error(err))
	}
}
