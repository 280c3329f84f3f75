package commission

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

// Pagination defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	exportBatch     = 500
)

// Summary is a partner's commission position.
type Summary struct {
	PartnerID            string          `json:"partnerId"`
	Balance              decimal.Decimal `json:"commissionBalance"`
	TotalEarned          decimal.Decimal `json:"totalCommissions"`
	Pending              decimal.Decimal `json:"pendingCommissions"`
	Approved             decimal.Decimal `json:"approvedCommissions"`
	Paid                 decimal.Decimal `json:"paidCommissions"`
	PendingWithdrawals   decimal.Decimal `json:"pendingWithdrawals"`
	CompletedWithdrawals decimal.Decimal `json:"completedWithdrawals"`
	CommissionCount      int             `json:"commissionCount"`
}

// HistoryQuery selects a page of a partner's ledger rows.
type HistoryQuery struct {
	Page   int    `json:"page" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Type   string `json:"type" validate:"omitempty,oneof=payment commission refund withdrawal platform_fee"`
	Status string `json:"status" validate:"omitempty,oneof=pending completed failed cancelled"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// History is one page of ledger rows.
type History struct {
	Transactions []model.Transaction `json:"transactions"`
	Pagination   Pagination          `json:"pagination"`
}

// ExportQuery filters an audit export. Zero fields do not filter.
type ExportQuery struct {
	PartnerID string
	UserID    string
	Type      model.TransactionType
	Status    model.TransactionStatus
	From      time.Time
	To        time.Time
}

var exportHeader = []string{
	"id", "reference", "type", "status", "amount", "currency",
	"order_id", "partner_id", "user_id", "processed_at", "created_at",
}

// Summary aggregates a partner's balance, commissions and withdrawals.
func (s *Service) Summary(ctx context.Context, partnerID string) (*Summary, error) {
	partner, err := s.store.GetPartner(ctx, partnerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodePartnerNotFound, "partner not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load partner")
	}
	commissions, err := s.store.ListCommissions(ctx, partnerID)
	if err != nil {
		return nil, apperr.Internal(err, "list commissions")
	}
	withdrawals, err := s.store.ListWithdrawals(ctx, partnerID)
	if err != nil {
		return nil, apperr.Internal(err, "list withdrawals")
	}

	sum := &Summary{
		PartnerID:       partnerID,
		Balance:         partner.CommissionBalance,
		TotalEarned:     partner.TotalCommissions,
		CommissionCount: len(commissions),
	}
	for _, c := range commissions {
		switch c.Status {
		case model.CommissionPending:
			sum.Pending = sum.Pending.Add(c.CommissionAmount)
		case model.CommissionApproved:
			sum.Approved = sum.Approved.Add(c.CommissionAmount)
		case model.CommissionPaid:
			sum.Paid = sum.Paid.Add(c.CommissionAmount)
		}
	}
	for _, w := range withdrawals {
		switch w.Status {
		case model.WithdrawalPending, model.WithdrawalProcessing:
			sum.PendingWithdrawals = sum.PendingWithdrawals.Add(w.Amount)
		case model.WithdrawalCompleted:
			sum.CompletedWithdrawals = sum.CompletedWithdrawals.Add(w.Amount)
		}
	}
	return sum, nil
}

// History returns a page of the partner's ledger rows, newest first.
func (s *Service) History(ctx context.Context, partnerID string, q HistoryQuery) (*History, error) {
	if err := apperr.Check(q); err != nil {
		return nil, err
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}

	txs, total, err := s.store.ListTransactions(ctx, store.TransactionFilter{
		PartnerID: partnerID,
		Type:      model.TransactionType(q.Type),
		Status:    model.TransactionStatus(q.Status),
		Limit:     q.Limit,
		Offset:    (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, apperr.Internal(err, "list transactions")
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return &History{
		Transactions: txs,
		Pagination: Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

// Export writes matching ledger rows to w as CSV, newest first, and
// returns the number of data rows written.
func (s *Service) Export(ctx context.Context, w io.Writer, q ExportQuery) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	written := 0
	for offset := 0; ; offset += exportBatch {
		txs, total, err := s.store.ListTransactions(ctx, store.TransactionFilter{
			PartnerID: q.PartnerID,
			UserID:    q.UserID,
			Type:      q.Type,
			Status:    q.Status,
			From:      q.From,
			To:        q.To,
			Limit:     exportBatch,
			Offset:    offset,
		})
		if err != nil {
			return written, apperr.Internal(err, "list transactions")
		}
		for i := range txs {
			if err := cw.Write(exportRow(&txs[i])); err != nil {
				return written, fmt.Errorf("write row: %w", err)
			}
			written++
		}
		if len(txs) == 0 || offset+len(txs) >= total {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("flush export: %w", err)
	}
	return written, nil
}

func exportRow(tx *model.Transaction) []string {
	processed := ""
	if tx.ProcessedAt != nil {
		processed = tx.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		tx.ID,
		tx.Reference,
		string(tx.Type),
		string(tx.Status),
		tx.Amount.String(),
		tx.Currency,
		tx.OrderID,
		tx.PartnerID,
		tx.UserID,
		processed,
		tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}
