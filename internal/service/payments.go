package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// AddPayment attaches a payment to a completed sale. The sale row stays
// locked while existing payments are summed, so concurrent payments cannot
// push the total past final_total.
func (s *Service) AddPayment(ctx context.Context, req domain.CreatePaymentRequest) (domain.Payment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID < 1 {
		return domain.Payment{}, store.ErrUnauthenticated
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if !domain.IsPaymentMethod(method) {
		return domain.Payment{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.Method)
	}
	if req.Amount.IsNegative() {
		return domain.Payment{}, fmt.Errorf("%w: amount must not be negative", store.ErrValidation)
	}
	amount := req.Amount.Round(2)

	var payment domain.Payment
	err := s.mutateSale(ctx, req.SaleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return fmt.Errorf("%w: payments require a completed sale, sale %d is %s", store.ErrInvalidState, sale.ID, sale.Status)
		}
		paid, err := tx.SumPayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if paid.Add(amount).GreaterThan(sale.FinalTotal) {
			return fmt.Errorf("%w: payment %s exceeds outstanding balance %s",
				store.ErrValidation, amount.StringFixed(2), sale.FinalTotal.Sub(paid).StringFixed(2))
		}

		payment = domain.Payment{
			SaleID:    sale.ID,
			Amount:    amount,
			Method:    method,
			Reference: strings.TrimSpace(req.Reference),
			UserID:    actor.UserID,
			PaidAt:    s.now(),
		}
		return tx.InsertPayment(ctx, &payment)
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logAudit(ctx, "add_payment", "sale", req.SaleID,
		fmt.Sprintf("payment=%d,amount=%s,method=%s", payment.ID, payment.Amount.StringFixed(2), payment.Method))
	return payment, nil
}

func (s *Service) PaymentSummary(ctx context.Context, saleID int64) (domain.PaymentSummary, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.PaymentSummary{}, err
	}
	payments, err := s.repo.ListPayments(ctx, saleID)
	if err != nil {
		return domain.PaymentSummary{}, err
	}

	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return domain.PaymentSummary{
		SaleID:     sale.ID,
		FinalTotal: sale.FinalTotal,
		TotalPaid:  paid,
		Balance:    sale.FinalTotal.Sub(paid),
		Payments:   payments,
	}, nil
}
