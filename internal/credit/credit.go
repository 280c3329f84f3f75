// Package credit maintains the buyer creditworthiness signal. It is a
// side channel of settlement: a failure here never affects money movement.
package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

// Score bounds and weights.
const (
	MinScore         = 300
	MaxScore         = 850
	pointsPerPayment = 15
	pointsPerVolume  = 5
)

// volumeStep is the payment volume that earns pointsPerVolume.
var volumeStep = decimal.NewFromInt(10000)

// Score computes clamp(300 + 15·payments + ⌊volume/10000⌋·5, 300, 850).
func Score(history []model.CreditHistoryEntry) int {
	volume := decimal.Zero
	for _, h := range history {
		volume = volume.Add(h.Amount)
	}
	steps := volume.Div(volumeStep).Floor().IntPart()
	score := MinScore + pointsPerPayment*len(history) + int(steps)*pointsPerVolume
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Updater records completed payments into the buyer's credit history.
type Updater struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewUpdater creates an updater. A nil logger uses slog.Default().
func NewUpdater(st store.Store, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RecordPayment appends the payment to buyerID's history and recomputes the
// score. Replaying the same transactionID changes nothing.
func (u *Updater) RecordPayment(ctx context.Context, buyerID, transactionID string, amount decimal.Decimal, at time.Time) (*model.CreditScore, error) {
	if buyerID == "" || transactionID == "" {
		return nil, fmt.Errorf("credit: buyer and transaction are required")
	}
	entry := model.CreditHistoryEntry{TransactionID: transactionID, Amount: amount, Date: at}
	cs, appended, err := u.store.AppendCreditHistory(ctx, buyerID, entry, Score, u.now())
	if err != nil {
		return nil, fmt.Errorf("credit: record %s for %s: %w", transactionID, buyerID, err)
	}
	if appended {
		u.logger.Info("credit score updated", "user_id", buyerID, "transaction_id", transactionID, "score", cs.Score)
	}
	return cs, nil
}

// Get returns buyerID's score. A buyer with no history has MinScore.
func (u *Updater) Get(ctx context.Context, buyerID string) (*model.CreditScore, error) {
	cs, err := u.store.GetCreditScore(ctx, buyerID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.CreditScore{UserID: buyerID, Score: MinScore, History: []model.CreditHistoryEntry{}}, nil
	}
	return cs, err
}
