package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// Publisher receives ledger events after they are committed.
type Publisher interface {
	Publish(event model.LedgerEvent)
}

// CreditRecorder updates the buyer credit signal. credit.Updater
// implements it.
type CreditRecorder interface {
	RecordPayment(ctx context.Context, buyerID, transactionID string, amount decimal.Decimal, at time.Time) (*model.CreditScore, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPublisher broadcasts ledger events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCurrency sets the currency recorded on ledger rows. Defaults to NGN.
func WithCurrency(c string) Option {
	return func(e *Engine) { e.currency = c }
}

// WithCommissionDueDays sets the payout delay of new commissions.
func WithCommissionDueDays(days int) Option {
	return func(e *Engine) { e.dueDays = days }
}

// WithAsyncCredit runs credit updates in the background, each bounded by
// timeout. Call Engine.Wait before shutdown to drain them.
func WithAsyncCredit(timeout time.Duration) Option {
	return func(e *Engine) {
		e.asyncCredit = true
		if timeout > 0 {
			e.creditTimeout = timeout
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
