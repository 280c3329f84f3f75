package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex serialises writers, so every multi-row operation is atomic
// and unique references are checked and claimed in one critical section.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]*model.Order
	farmers     map[string]*model.Farmer
	partners    map[string]*model.Partner
	txByRef     map[string]*model.Transaction
	txSeq       []string // references in insertion order
	commissions []model.Commission
	withdrawals map[string]*model.CommissionWithdrawal
	tiers       map[string]*model.CommissionTier
	credit      map[string]*model.CreditScore
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*model.Order),
		farmers:     make(map[string]*model.Farmer),
		partners:    make(map[string]*model.Partner),
		txByRef:     make(map[string]*model.Transaction),
		withdrawals: make(map[string]*model.CommissionWithdrawal),
		tiers:       make(map[string]*model.CommissionTier),
		credit:      make(map[string]*model.CreditScore),
	}
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, from, to model.OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("order %s: %s -> %s: %w", id, from, to, ErrStateConflict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s is %s, not %s: %w", id, o.Status, from, ErrStateConflict)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Farmers and partners ---

func (s *MemoryStore) UpsertFarmer(_ context.Context, f *model.Farmer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.farmers[f.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFarmer(_ context.Context, id string) (*model.Farmer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.farmers[id]
	if !ok {
		return nil, fmt.Errorf("farmer %s: %w", id, ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

// UpsertPartner inserts a partner or updates its profile. Balances of an
// existing partner are never overwritten.
func (s *MemoryStore) UpsertPartner(_ context.Context, p *model.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.partners[p.ID]; ok {
		updated := copyPartner(p)
		existing.Name = updated.Name
		existing.CommissionRate = updated.CommissionRate
		existing.UpdatedAt = updated.UpdatedAt
		return nil
	}
	s.partners[p.ID] = copyPartner(p)
	return nil
}

func (s *MemoryStore) GetPartner(_ context.Context, id string) (*model.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partners[id]
	if !ok {
		return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	return copyPartner(p), nil
}

// --- Immutable ledger ---

func (s *MemoryStore) InsertTransaction(_ context.Context, tx *model.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertTxLocked(tx), nil
}

func (s *MemoryStore) insertTxLocked(tx *model.Transaction) bool {
	if _, ok := s.txByRef[tx.Reference]; ok {
		return false
	}
	s.txByRef[tx.Reference] = copyTx(tx)
	s.txSeq = append(s.txSeq, tx.Reference)
	return true
}

func (s *MemoryStore) GetTransactionByReference(_ context.Context, ref string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txByRef[ref]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", ref, ErrNotFound)
	}
	return copyTx(tx), nil
}

func (s *MemoryStore) FailTransaction(_ context.Context, ref string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txByRef[ref]
	if !ok {
		return false, fmt.Errorf("transaction %s: %w", ref, ErrNotFound)
	}
	if tx.Status != model.TxPending {
		return false, nil
	}
	tx.Status = model.TxFailed
	tx.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TransactionFilter) ([]model.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Transaction
	for i := len(s.txSeq) - 1; i >= 0; i-- {
		tx := s.txByRef[s.txSeq[i]]
		if matchesFilter(tx, f) {
			matched = append(matched, *copyTx(tx))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []model.Transaction{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matchesFilter(tx *model.Transaction, f TransactionFilter) bool {
	switch {
	case f.UserID != "" && tx.UserID != f.UserID:
		return false
	case f.PartnerID != "" && tx.PartnerID != f.PartnerID:
		return false
	case f.OrderID != "" && tx.OrderID != f.OrderID:
		return false
	case f.Type != "" && tx.Type != f.Type:
		return false
	case f.Status != "" && tx.Status != f.Status:
		return false
	case !f.From.IsZero() && tx.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && !tx.CreatedAt.Before(f.To):
		return false
	case !f.CreatedBefore.IsZero() && !tx.CreatedAt.Before(f.CreatedBefore):
		return false
	}
	return true
}

func (s *MemoryStore) CountCompletedCommissions(_ context.Context, partnerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, tx := range s.txByRef {
		if tx.Type == model.TxCommission && tx.Status == model.TxCompleted && tx.PartnerID == partnerID {
			n++
		}
	}
	return n, nil
}

// --- Settlement ---

func (s *MemoryStore) FinalizePayment(_ context.Context, p FinalizeParams) (*FinalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pay, ok := s.txByRef[p.Reference]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", p.Reference, ErrNotFound)
	}
	if pay.Status == model.TxFailed || pay.Status == model.TxCancelled {
		return nil, fmt.Errorf("payment %s is %s: %w", p.Reference, pay.Status, ErrStateConflict)
	}
	order, ok := s.orders[pay.OrderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", pay.OrderID, ErrNotFound)
	}

	res := &FinalizeResult{}
	if pay.Status == model.TxPending {
		at := p.At
		pay.Status = model.TxCompleted
		pay.ProcessedAt = &at
		pay.UpdatedAt = at
		if p.ProviderReference != "" {
			pay.ProviderReference = p.ProviderReference
		}
		res.PaymentCompleted = true
	}

	switch {
	case order.Status == model.OrderPending:
		order.Status = model.OrderPaid
		order.PaymentReference = p.Reference
		order.UpdatedAt = p.At
	case order.PaymentReference != p.Reference:
		res.OrderConflict = true
	}

	if !res.OrderConflict && p.PlatformFee != nil {
		res.FeeCreated = s.insertTxLocked(p.PlatformFee)
	}

	res.Payment = copyTx(pay)
	res.Order = copyOrder(order)
	return res, nil
}

func (s *MemoryStore) RecordCommission(_ context.Context, tx *model.Transaction, c *model.Commission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.partners[c.PartnerID]
	if !ok {
		return false, fmt.Errorf("partner %s: %w", c.PartnerID, ErrNotFound)
	}
	if !s.insertTxLocked(tx) {
		return false, nil
	}
	s.commissions = append(s.commissions, *c)
	partner.CommissionBalance = partner.CommissionBalance.Add(c.CommissionAmount)
	partner.TotalCommissions = partner.TotalCommissions.Add(c.CommissionAmount)
	partner.UpdatedAt = c.CreatedAt
	return true, nil
}

func (s *MemoryStore) ListCommissions(_ context.Context, partnerID string) ([]model.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Commission
	for i := len(s.commissions) - 1; i >= 0; i-- {
		if s.commissions[i].PartnerID == partnerID {
			result = append(result, s.commissions[i])
		}
	}
	return result, nil
}

// --- Withdrawals ---

func (s *MemoryStore) CreateWithdrawal(_ context.Context, w *model.CommissionWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.partners[w.PartnerID]
	if !ok {
		return fmt.Errorf("partner %s: %w", w.PartnerID, ErrNotFound)
	}
	if partner.CommissionBalance.LessThan(w.Amount) {
		return ErrInsufficientBalance
	}
	partner.CommissionBalance = partner.CommissionBalance.Sub(w.Amount)
	partner.UpdatedAt = w.CreatedAt
	cp := *w
	s.withdrawals[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWithdrawal(_ context.Context, id string) (*model.CommissionWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) TransitionWithdrawal(_ context.Context, u WithdrawalUpdate) (*model.CommissionWithdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[u.ID]
	if !ok || (u.PartnerID != "" && w.PartnerID != u.PartnerID) {
		return nil, fmt.Errorf("withdrawal %s: %w", u.ID, ErrNotFound)
	}
	if !u.allowed(w.Status) {
		return nil, fmt.Errorf("withdrawal %s is %s: %w", u.ID, w.Status, ErrStateConflict)
	}

	if u.RestoresBalance() {
		partner, ok := s.partners[w.PartnerID]
		if !ok {
			return nil, fmt.Errorf("partner %s: %w", w.PartnerID, ErrNotFound)
		}
		partner.CommissionBalance = partner.CommissionBalance.Add(w.Amount)
		partner.UpdatedAt = u.At
	}

	w.Status = u.To
	if u.ProviderReference != "" {
		w.ProviderReference = u.ProviderReference
	}
	if u.FailureReason != "" {
		w.FailureReason = u.FailureReason
	}
	if u.To == model.WithdrawalCompleted || u.To == model.WithdrawalFailed {
		at := u.At
		w.ProcessedAt = &at
	}
	w.UpdatedAt = u.At
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListWithdrawals(_ context.Context, partnerID string) ([]model.CommissionWithdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CommissionWithdrawal
	for _, w := range s.withdrawals {
		if w.PartnerID == partnerID {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// --- Tiers ---

func (s *MemoryStore) UpsertCommissionTier(_ context.Context, t *model.CommissionTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tiers[t.ID] = &cp
	return nil
}

func (s *MemoryStore) ListCommissionTiers(_ context.Context) ([]model.CommissionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]model.CommissionTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		tiers = append(tiers, *t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinTransactions < tiers[j].MinTransactions
	})
	return tiers, nil
}

// --- Credit signal ---

func (s *MemoryStore) AppendCreditHistory(_ context.Context, userID string, entry model.CreditHistoryEntry, score Scorer, now time.Time) (*model.CreditScore, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.credit[userID]
	if !ok {
		cs = &model.CreditScore{UserID: userID}
		s.credit[userID] = cs
	}
	for _, h := range cs.History {
		if h.TransactionID == entry.TransactionID {
			return copyCredit(cs), false, nil
		}
	}
	cs.History = append(cs.History, entry)
	cs.Score = score(cs.History)
	cs.UpdatedAt = now
	return copyCredit(cs), true, nil
}

func (s *MemoryStore) GetCreditScore(_ context.Context, userID string) (*model.CreditScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.credit[userID]
	if !ok {
		return nil, fmt.Errorf("credit score %s: %w", userID, ErrNotFound)
	}
	return copyCredit(cs), nil
}

// --- Copy helpers (avoid external mutation) ---

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}

func copyPartner(p *model.Partner) *model.Partner {
	cp := *p
	if p.CommissionRate != nil {
		r := *p.CommissionRate
		cp.CommissionRate = &r
	}
	return &cp
}

func copyTx(tx *model.Transaction) *model.Transaction {
	cp := *tx
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]any, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	if tx.ProcessedAt != nil {
		at := *tx.ProcessedAt
		cp.ProcessedAt = &at
	}
	return &cp
}

func copyCredit(cs *model.CreditScore) *model.CreditScore {
	cp := *cs
	cp.History = append([]model.CreditHistoryEntry(nil), cs.History...)
	return &cp
}
