package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only reference data and derived read models are cached: partners,
// farmers, commission tiers and credit scores. Ledger rows and orders
// always come from the primary, since settlement decisions depend on them.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertFarmer(ctx context.Context, f *model.Farmer) error {
	if err := s.primary.UpsertFarmer(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, farmerKey(f.ID))
	return nil
}

func (s *CachedStore) UpsertPartner(ctx context.Context, p *model.Partner) error {
	if err := s.primary.UpsertPartner(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, partnerKey(p.ID))
	return nil
}

func (s *CachedStore) RecordCommission(ctx context.Context, tx *model.Transaction, c *model.Commission) (bool, error) {
	created, err := s.primary.RecordCommission(ctx, tx, c)
	if err != nil {
		return false, err
	}
	if created {
		// Balance changed; next read will re-populate.
		s.rdb.Del(ctx, partnerKey(c.PartnerID))
	}
	return created, nil
}

func (s *CachedStore) CreateWithdrawal(ctx context.Context, w *model.CommissionWithdrawal) error {
	if err := s.primary.CreateWithdrawal(ctx, w); err != nil {
		return err
	}
	s.rdb.Del(ctx, partnerKey(w.PartnerID))
	return nil
}

func (s *CachedStore) TransitionWithdrawal(ctx context.Context, u WithdrawalUpdate) (*model.CommissionWithdrawal, error) {
	w, err := s.primary.TransitionWithdrawal(ctx, u)
	if err != nil {
		return nil, err
	}
	if u.RestoresBalance() {
		s.rdb.Del(ctx, partnerKey(w.PartnerID))
	}
	return w, nil
}

func (s *CachedStore) UpsertCommissionTier(ctx context.Context, t *model.CommissionTier) error {
	if err := s.primary.UpsertCommissionTier(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, tiersKey)
	return nil
}

func (s *CachedStore) AppendCreditHistory(ctx context.Context, userID string, entry model.CreditHistoryEntry, score Scorer, now time.Time) (*model.CreditScore, bool, error) {
	cs, appended, err := s.primary.AppendCreditHistory(ctx, userID, entry, score, now)
	if err != nil {
		return nil, false, err
	}
	if appended {
		s.cacheJSON(ctx, creditKey(userID), cs)
	}
	return cs, appended, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFarmer(ctx context.Context, id string) (*model.Farmer, error) {
	var f model.Farmer
	if s.cached(ctx, farmerKey(id), &f) {
		return &f, nil
	}

	// Cache miss: read from primary.
	farmer, err := s.primary.GetFarmer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, farmerKey(id), farmer)
	return farmer, nil
}

func (s *CachedStore) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	var p model.Partner
	if s.cached(ctx, partnerKey(id), &p) {
		return &p, nil
	}

	partner, err := s.primary.GetPartner(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, partnerKey(id), partner)
	return partner, nil
}

func (s *CachedStore) ListCommissionTiers(ctx context.Context) ([]model.CommissionTier, error) {
	var tiers []model.CommissionTier
	if s.cached(ctx, tiersKey, &tiers) {
		return tiers, nil
	}

	tiers, err := s.primary.ListCommissionTiers(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, tiersKey, tiers)
	return tiers, nil
}

func (s *CachedStore) GetCreditScore(ctx context.Context, userID string) (*model.CreditScore, error) {
	var cs model.CreditScore
	if s.cached(ctx, creditKey(userID), &cs) {
		return &cs, nil
	}

	score, err := s.primary.GetCreditScore(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, creditKey(userID), score)
	return score, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.CreateOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	return s.primary.UpdateOrderStatus(ctx, id, from, to)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, tx *model.Transaction) (bool, error) {
	return s.primary.InsertTransaction(ctx, tx)
}

func (s *CachedStore) GetTransactionByReference(ctx context.Context, ref string) (*model.Transaction, error) {
	return s.primary.GetTransactionByReference(ctx, ref)
}

func (s *CachedStore) FailTransaction(ctx context.Context, ref string, at time.Time) (bool, error) {
	return s.primary.FailTransaction(ctx, ref, at)
}

func (s *CachedStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int, error) {
	return s.primary.ListTransactions(ctx, f)
}

func (s *CachedStore) CountCompletedCommissions(ctx context.Context, partnerID string) (int, error) {
	return s.primary.CountCompletedCommissions(ctx, partnerID)
}

func (s *CachedStore) FinalizePayment(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	return s.primary.FinalizePayment(ctx, p)
}

func (s *CachedStore) ListCommissions(ctx context.Context, partnerID string) ([]model.Commission, error) {
	return s.primary.ListCommissions(ctx, partnerID)
}

func (s *CachedStore) GetWithdrawal(ctx context.Context, id string) (*model.CommissionWithdrawal, error) {
	return s.primary.GetWithdrawal(ctx, id)
}

func (s *CachedStore) ListWithdrawals(ctx context.Context, partnerID string) ([]model.CommissionWithdrawal, error) {
	return s.primary.ListWithdrawals(ctx, partnerID)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const tiersKey = "commission_tiers"

func farmerKey(id string) string { return fmt.Sprintf("farmer:%s", id) }
func partnerKey(id string) string { return fmt.Sprintf("partner:%s", id) }
func creditKey(uid string) string { return fmt.Sprintf("credit:%s", uid) }
