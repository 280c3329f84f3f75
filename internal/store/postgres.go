package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (id, buyer_id, buyer_email, items, total, status, payment_reference, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::JSONB, $5::NUMERIC, $6, $7, $8, $9)`,
		o.ID, o.BuyerID, o.BuyerEmail, string(items), o.Total.String(),
		o.Status, o.PaymentReference, o.CreatedAt, o.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (*model.Order, error) {
	sql := `SELECT id, buyer_id, buyer_email, items, total::TEXT, status, payment_reference, created_at, updated_at
	        FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var o model.Order
	var items []byte
	var total string
	err := q.QueryRow(ctx, sql, id).Scan(
		&o.ID, &o.BuyerID, &o.BuyerEmail, &items, &total,
		&o.Status, &o.PaymentReference, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "order %s", id)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order %s items: %w", id, err)
	}
	var n numerics
	o.Total = n.dec("orders.total", total)
	if n.err != nil {
		return nil, fmt.Errorf("order %s: %w", id, n.err)
	}
	return &o, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("order %s: %s -> %s: %w", id, from, to, ErrStateConflict)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := getOrder(ctx, s.pool, id, false); err != nil {
			return err
		}
		return fmt.Errorf("order %s is not %s: %w", id, from, ErrStateConflict)
	}
	return nil
}

// --- Farmers and partners ---

func (s *PostgresStore) UpsertFarmer(ctx context.Context, f *model.Farmer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO farmers (id, name, partner_id, referral_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, partner_id = EXCLUDED.partner_id, referral_id = EXCLUDED.referral_id`,
		f.ID, f.Name, f.PartnerID, f.ReferralID,
	)
	return err
}

func (s *PostgresStore) GetFarmer(ctx context.Context, id string) (*model.Farmer, error) {
	var f model.Farmer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, partner_id, referral_id FROM farmers WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.PartnerID, &f.ReferralID)
	if err != nil {
		return nil, notFound(err, "farmer %s", id)
	}
	return &f, nil
}

// UpsertPartner inserts a partner or updates its profile. Balances of an
// existing partner are never overwritten.
func (s *PostgresStore) UpsertPartner(ctx context.Context, p *model.Partner) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO partners (id, name, commission_rate, commission_balance, total_commissions, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, commission_rate = EXCLUDED.commission_rate, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, optDec(p.CommissionRate),
		p.CommissionBalance.String(), p.TotalCommissions.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPartner(ctx context.Context, id string) (*model.Partner, error) {
	var p model.Partner
	var rate *string
	var balance, total string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, commission_rate::TEXT, commission_balance::TEXT, total_commissions::TEXT, created_at, updated_at
		 FROM partners WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &rate, &balance, &total, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "partner %s", id)
	}
	var n numerics
	if rate != nil {
		r := n.dec("partners.commission_rate", *rate)
		p.CommissionRate = &r
	}
	p.CommissionBalance = n.dec("partners.commission_balance", balance)
	p.TotalCommissions = n.dec("partners.total_commissions", total)
	if n.err != nil {
		return nil, fmt.Errorf("partner %s: %w", id, n.err)
	}
	return &p, nil
}

// --- Immutable ledger ---

const txColumns = `id, type, status, amount::TEXT, currency, reference, user_id, partner_id, order_id,
	referral_id, provider, provider_reference, metadata, processed_at, created_at, updated_at`

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) (bool, error) {
	return insertTx(ctx, s.pool, tx)
}

// insertTx writes tx unless its reference exists. RowsAffected decides
// whether this caller created the row.
func insertTx(ctx context.Context, q querier, tx *model.Transaction) (bool, error) {
	var meta *string
	if tx.Metadata != nil {
		data, err := json.Marshal(tx.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode metadata: %w", err)
		}
		m := string(data)
		meta = &m
	}
	tag, err := q.Exec(ctx,
		`INSERT INTO transactions (id, type, status, amount, currency, reference, user_id, partner_id, order_id,
		                           referral_id, provider, provider_reference, metadata, processed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9, $10, $11, $12, $13::JSONB, $14, $15, $16)
		 ON CONFLICT (reference) DO NOTHING`,
		tx.ID, tx.Type, tx.Status, tx.Amount.String(), tx.Currency, tx.Reference,
		tx.UserID, tx.PartnerID, tx.OrderID, tx.ReferralID, tx.Provider, tx.ProviderReference,
		meta, tx.ProcessedAt, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", tx.Reference, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetTransactionByReference(ctx context.Context, ref string) (*model.Transaction, error) {
	return getTx(ctx, s.pool, ref, false)
}

func getTx(ctx context.Context, q querier, ref string, forUpdate bool) (*model.Transaction, error) {
	sql := `SELECT ` + txColumns + ` FROM transactions WHERE reference = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	tx, err := scanTx(q.QueryRow(ctx, sql, ref))
	if err != nil {
		return nil, notFound(err, "transaction %s", ref)
	}
	return tx, nil
}

func (s *PostgresStore) FailTransaction(ctx context.Context, ref string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE reference = $1 AND status = $4`,
		ref, model.TxFailed, at, model.TxPending,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := getTx(ctx, s.pool, ref, false); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.PartnerID != "" {
		add("partner_id = $%d", f.PartnerID)
	}
	if f.OrderID != "" {
		add("order_id = $%d", f.OrderID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	sql := `SELECT ` + txColumns + ` FROM transactions` + cond + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txs := []model.Transaction{}
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, *tx)
	}
	return txs, total, rows.Err()
}

func (s *PostgresStore) CountCompletedCommissions(ctx context.Context, partnerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE partner_id = $1 AND type = $2 AND status = $3`,
		partnerID, model.TxCommission, model.TxCompleted,
	).Scan(&n)
	return n, err
}

// --- Settlement ---

// FinalizePayment locks the payment row so concurrent confirmations of one
// reference serialise; the second caller observes the first caller's writes.
func (s *PostgresStore) FinalizePayment(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	res := &FinalizeResult{}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		pay, err := getTx(ctx, tx, p.Reference, true)
		if err != nil {
			return err
		}
		if pay.Status == model.TxFailed || pay.Status == model.TxCancelled {
			return fmt.Errorf("payment %s is %s: %w", p.Reference, pay.Status, ErrStateConflict)
		}
		if pay.Status == model.TxPending {
			if _, err := tx.Exec(ctx,
				`UPDATE transactions
				 SET status = $2, processed_at = $3, updated_at = $3,
				     provider_reference = COALESCE(NULLIF($4, ''), provider_reference)
				 WHERE reference = $1`,
				p.Reference, model.TxCompleted, p.At, p.ProviderReference,
			); err != nil {
				return fmt.Errorf("complete payment: %w", err)
			}
			at := p.At
			pay.Status = model.TxCompleted
			pay.ProcessedAt = &at
			pay.UpdatedAt = at
			if p.ProviderReference != "" {
				pay.ProviderReference = p.ProviderReference
			}
			res.PaymentCompleted = true
		}

		order, err := getOrder(ctx, tx, pay.OrderID, true)
		if err != nil {
			return err
		}
		switch {
		case order.Status == model.OrderPending:
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2, payment_reference = $3, updated_at = $4 WHERE id = $1`,
				order.ID, model.OrderPaid, p.Reference, p.At,
			); err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			order.Status = model.OrderPaid
			order.PaymentReference = p.Reference
			order.UpdatedAt = p.At
		case order.PaymentReference != p.Reference:
			res.OrderConflict = true
		}

		if !res.OrderConflict && p.PlatformFee != nil {
			created, err := insertTx(ctx, tx, p.PlatformFee)
			if err != nil {
				return err
			}
			res.FeeCreated = created
		}
		res.Payment = pay
		res.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *PostgresStore) RecordCommission(ctx context.Context, ltx *model.Transaction, c *model.Commission) (bool, error) {
	var created bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := insertTx(ctx, tx, ltx)
		if err != nil || !inserted {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO commissions (id, partner_id, referral_id, transaction_id, transaction_type, transaction_amount,
			                          commission_rate, commission_amount, status, due_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
			c.ID, c.PartnerID, c.ReferralID, c.TransactionID, c.TransactionType,
			c.TransactionAmount.String(), c.CommissionRate.String(), c.CommissionAmount.String(),
			c.Status, c.DueDate, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert commission: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE partners
			 SET commission_balance = commission_balance + $2::NUMERIC,
			     total_commissions  = total_commissions + $2::NUMERIC,
			     updated_at = $3
			 WHERE id = $1`,
			c.PartnerID, c.CommissionAmount.String(), c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("credit partner: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("partner %s: %w", c.PartnerID, ErrNotFound)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *PostgresStore) ListCommissions(ctx context.Context, partnerID string) ([]model.Commission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, partner_id, referral_id, transaction_id, transaction_type, transaction_amount::TEXT,
		        commission_rate::TEXT, commission_amount::TEXT, status, due_date, created_at
		 FROM commissions WHERE partner_id = $1 ORDER BY created_at DESC`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Commission
	for rows.Next() {
		var c model.Commission
		var txAmount, rate, amount string
		if err := rows.Scan(&c.ID, &c.PartnerID, &c.ReferralID, &c.TransactionID, &c.TransactionType,
			&txAmount, &rate, &amount, &c.Status, &c.DueDate, &c.CreatedAt); err != nil {
			return nil, err
		}
		var n numerics
		c.TransactionAmount = n.dec("commissions.transaction_amount", txAmount)
		c.CommissionRate = n.dec("commissions.commission_rate", rate)
		c.CommissionAmount = n.dec("commissions.commission_amount", amount)
		if n.err != nil {
			return nil, fmt.Errorf("commission %s: %w", c.ID, n.err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- Withdrawals ---

const withdrawalColumns = `id, partner_id, amount::TEXT, processing_fee::TEXT, net_amount::TEXT, method, destination,
	status, provider_reference, failure_reason, processed_at, created_at, updated_at`

func (s *PostgresStore) CreateWithdrawal(ctx context.Context, w *model.CommissionWithdrawal) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE partners SET commission_balance = commission_balance - $2::NUMERIC, updated_at = $3
			 WHERE id = $1 AND commission_balance >= $2::NUMERIC`,
			w.PartnerID, w.Amount.String(), w.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("reserve balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1)`, w.PartnerID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("partner %s: %w", w.PartnerID, ErrNotFound)
			}
			return ErrInsufficientBalance
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO commission_withdrawals (id, partner_id, amount, processing_fee, net_amount, method, destination,
			                                     status, provider_reference, failure_reason, processed_at, created_at, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12, $13)`,
			w.ID, w.PartnerID, w.Amount.String(), w.ProcessingFee.String(), w.NetAmount.String(),
			w.Method, w.Destination, w.Status, w.ProviderReference, w.FailureReason,
			w.ProcessedAt, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*model.CommissionWithdrawal, error) {
	return getWithdrawal(ctx, s.pool, id, false)
}

func getWithdrawal(ctx context.Context, q querier, id string, forUpdate bool) (*model.CommissionWithdrawal, error) {
	sql := `SELECT ` + withdrawalColumns + ` FROM commission_withdrawals WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	w, err := scanWithdrawal(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, notFound(err, "withdrawal %s", id)
	}
	return w, nil
}

func (s *PostgresStore) TransitionWithdrawal(ctx context.Context, u WithdrawalUpdate) (*model.CommissionWithdrawal, error) {
	var out *model.CommissionWithdrawal
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		w, err := getWithdrawal(ctx, tx, u.ID, true)
		if err != nil {
			return err
		}
		if u.PartnerID != "" && w.PartnerID != u.PartnerID {
			return fmt.Errorf("withdrawal %s: %w", u.ID, ErrNotFound)
		}
		if !u.allowed(w.Status) {
			return fmt.Errorf("withdrawal %s is %s: %w", u.ID, w.Status, ErrStateConflict)
		}

		if u.RestoresBalance() {
			tag, err := tx.Exec(ctx,
				`UPDATE partners SET commission_balance = commission_balance + $2::NUMERIC, updated_at = $3 WHERE id = $1`,
				w.PartnerID, w.Amount.String(), u.At,
			)
			if err != nil {
				return fmt.Errorf("restore balance: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("partner %s: %w", w.PartnerID, ErrNotFound)
			}
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

		if _, err := tx.Exec(ctx,
			`UPDATE commission_withdrawals
			 SET status = $2, provider_reference = $3, failure_reason = $4, processed_at = $5, updated_at = $6
			 WHERE id = $1`,
			w.ID, w.Status, w.ProviderReference, w.FailureReason, w.ProcessedAt, w.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, partnerID string) ([]model.CommissionWithdrawal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM commission_withdrawals WHERE partner_id = $1 ORDER BY created_at DESC`,
		partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CommissionWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// --- Tiers ---

func (s *PostgresStore) UpsertCommissionTier(ctx context.Context, t *model.CommissionTier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO commission_tiers (id, name, min_transactions, max_transactions, commission_rate, status, effective_date, expiry_date)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, min_transactions = EXCLUDED.min_transactions,
		   max_transactions = EXCLUDED.max_transactions, commission_rate = EXCLUDED.commission_rate,
		   status = EXCLUDED.status, effective_date = EXCLUDED.effective_date, expiry_date = EXCLUDED.expiry_date`,
		t.ID, t.Name, t.MinTransactions, t.MaxTransactions, t.CommissionRate.String(),
		t.Status, t.EffectiveDate, t.ExpiryDate,
	)
	return err
}

func (s *PostgresStore) ListCommissionTiers(ctx context.Context) ([]model.CommissionTier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, min_transactions, max_transactions, commission_rate::TEXT, status, effective_date, expiry_date
		 FROM commission_tiers ORDER BY min_transactions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []model.CommissionTier
	for rows.Next() {
		var t model.CommissionTier
		var rate string
		if err := rows.Scan(&t.ID, &t.Name, &t.MinTransactions, &t.MaxTransactions, &rate,
			&t.Status, &t.EffectiveDate, &t.ExpiryDate); err != nil {
			return nil, err
		}
		var n numerics
		t.CommissionRate = n.dec("commission_tiers.commission_rate", rate)
		if n.err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.ID, n.err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// --- Credit signal ---

func (s *PostgresStore) AppendCreditHistory(ctx context.Context, userID string, entry model.CreditHistoryEntry, score Scorer, now time.Time) (*model.CreditScore, bool, error) {
	var cs *model.CreditScore
	var appended bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO credit_history (user_id, transaction_id, amount, date)
			 VALUES ($1, $2, $3::NUMERIC, $4)
			 ON CONFLICT (user_id, transaction_id) DO NOTHING`,
			userID, entry.TransactionID, entry.Amount.String(), entry.Date,
		)
		if err != nil {
			return fmt.Errorf("append credit history: %w", err)
		}
		appended = tag.RowsAffected() == 1

		history, err := creditHistory(ctx, tx, userID)
		if err != nil {
			return err
		}
		cs = &model.CreditScore{UserID: userID, History: history}
		if appended {
			cs.Score = score(history)
			cs.UpdatedAt = now
			_, err := tx.Exec(ctx,
				`INSERT INTO credit_scores (user_id, score, updated_at) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
				userID, cs.Score, now,
			)
			return err
		}
		return tx.QueryRow(ctx,
			`SELECT score, updated_at FROM credit_scores WHERE user_id = $1`, userID,
		).Scan(&cs.Score, &cs.UpdatedAt)
	})
	if err != nil {
		return nil, false, err
	}
	return cs, appended, nil
}

func (s *PostgresStore) GetCreditScore(ctx context.Context, userID string) (*model.CreditScore, error) {
	cs := &model.CreditScore{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT score, updated_at FROM credit_scores WHERE user_id = $1`, userID,
	).Scan(&cs.Score, &cs.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "credit score %s", userID)
	}
	cs.History, err = creditHistory(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func creditHistory(ctx context.Context, q querier, userID string) ([]model.CreditHistoryEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT transaction_id, amount::TEXT, date FROM credit_history WHERE user_id = $1 ORDER BY date, transaction_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.CreditHistoryEntry
	for rows.Next() {
		var h model.CreditHistoryEntry
		var amount string
		if err := rows.Scan(&h.TransactionID, &amount, &h.Date); err != nil {
			return nil, err
		}
		var n numerics
		h.Amount = n.dec("credit_history.amount", amount)
		if n.err != nil {
			return nil, fmt.Errorf("credit history %s: %w", h.TransactionID, n.err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// --- Scan helpers ---

func scanTx(row pgx.Row) (*model.Transaction, error) {
	var tx model.Transaction
	var amount string
	var meta []byte
	if err := row.Scan(&tx.ID, &tx.Type, &tx.Status, &amount, &tx.Currency, &tx.Reference,
		&tx.UserID, &tx.PartnerID, &tx.OrderID, &tx.ReferralID, &tx.Provider, &tx.ProviderReference,
		&meta, &tx.ProcessedAt, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return nil, err
	}
	var n numerics
	tx.Amount = n.dec("transactions.amount", amount)
	if n.err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.Reference, n.err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", tx.Reference, err)
		}
	}
	return &tx, nil
}

func scanWithdrawal(row pgx.Row) (*model.CommissionWithdrawal, error) {
	var w model.CommissionWithdrawal
	var amount, fee, net string
	if err := row.Scan(&w.ID, &w.PartnerID, &amount, &fee, &net, &w.Method, &w.Destination,
		&w.Status, &w.ProviderReference, &w.FailureReason, &w.ProcessedAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var n numerics
	w.Amount = n.dec("commission_withdrawals.amount", amount)
	w.ProcessingFee = n.dec("commission_withdrawals.processing_fee", fee)
	w.NetAmount = n.dec("commission_withdrawals.net_amount", net)
	if n.err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", w.ID, n.err)
	}
	return &w, nil
}

// numerics parses NUMERIC columns read as text and keeps the first failure,
// so a corrupt value surfaces as an error instead of a silent zero.
type numerics struct{ err error }

func (n *numerics) dec(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && n.err == nil {
		n.err = fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return d
}

func optDec(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
