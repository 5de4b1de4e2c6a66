package merchant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/corepay/gestpay/merchant/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// OrderStore is the external order repository surface this integration
// consumes. It must provide read-after-write consistency for a single
// order's status.
type OrderStore interface {
	LoadOrder(ctx context.Context, id int64) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	AppendOrderNote(ctx context.Context, id int64, note string) error
	SetOrderMetadata(ctx context.Context, id int64, key, value string) error
}

// CardStore holds customer-scoped saved-card tokens.
type CardStore interface {
	ListCards(ctx context.Context, customerID string) ([]*models.SavedCard, error)
	SaveCard(ctx context.Context, customerID string, card *models.SavedCard) error
	DeleteCard(ctx context.Context, customerID, token string) error
	SetDefaultCard(ctx context.Context, customerID, token string) error
}

// AuthStore tracks server-to-server authorizations awaiting settle/void.
type AuthStore interface {
	SaveAuthorization(ctx context.Context, auth *models.AuthorizedTransaction) error
	GetAuthorization(ctx context.Context, bankTransactionID string) (*models.AuthorizedTransaction, error)
	SetAuthorizationStatus(ctx context.Context, bankTransactionID string, status models.AuthorizationStatus) error
}

// Repository implements the order, card and authorization stores with
// either an in-memory backend (tests) or Postgres (runtime), selected by
// whether db is nil.
type Repository struct {
	mu     sync.RWMutex
	orders map[int64]*models.Order
	cards  map[string][]*models.SavedCard
	auths  map[string]*models.AuthorizedTransaction

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		orders: make(map[int64]*models.Order),
		cards:  make(map[string][]*models.SavedCard),
		auths:  make(map[string]*models.AuthorizedTransaction),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

// CreateOrder seeds an order. Orders are owned by the surrounding shop;
// this exists for the memory backend and integration setups.
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.Metadata == nil {
		order.Metadata = make(map[string]string)
	}
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.orders[order.ID]; ok {
			return ErrConflict
		}
		r.orders[order.ID] = order
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant.orders(order_id, customer_id, total, currency, status, recurring)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.CustomerID, order.Total.StringFixed(2), order.Currency, string(order.Status), order.Recurring)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *Repository) LoadOrder(ctx context.Context, id int64) (*models.Order, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		order, ok := r.orders[id]
		if !ok {
			return nil, ErrNotFound
		}
		cp := *order
		cp.Metadata = make(map[string]string, len(order.Metadata))
		for k, v := range order.Metadata {
			cp.Metadata[k] = v
		}
		cp.Notes = append([]string(nil), order.Notes...)
		return &cp, nil
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT order_id, customer_id, total, currency, status, recurring
		  FROM merchant.orders WHERE order_id=$1
	`, id)
	var order models.Order
	var total, status string
	if err := row.Scan(&order.ID, &order.CustomerID, &total, &order.Currency, &status, &order.Recurring); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parsing order total: %w", err)
	}
	order.Total = amount
	order.Status = models.OrderStatus(status)

	order.Metadata = make(map[string]string)
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM merchant.order_metadata WHERE order_id=$1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		order.Metadata[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	noteRows, err := r.db.QueryContext(ctx, `SELECT note FROM merchant.order_notes WHERE order_id=$1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n string
		if err := noteRows.Scan(&n); err != nil {
			return nil, err
		}
		order.Notes = append(order.Notes, n)
	}
	return &order, noteRows.Err()
}

// SaveOrder persists the order's status, the only order field this
// integration mutates directly.
func (r *Repository) SaveOrder(ctx context.Context, order *models.Order) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		stored, ok := r.orders[order.ID]
		if !ok {
			return ErrNotFound
		}
		stored.Status = order.Status
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE merchant.orders SET status=$2, updated_at=now() WHERE order_id=$1
	`, order.ID, string(order.Status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) AppendOrderNote(ctx context.Context, id int64, note string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		order, ok := r.orders[id]
		if !ok {
			return ErrNotFound
		}
		order.Notes = append(order.Notes, note)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant.order_notes(order_id, note) VALUES ($1,$2)
	`, id, note)
	return err
}

func (r *Repository) SetOrderMetadata(ctx context.Context, id int64, key, value string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		order, ok := r.orders[id]
		if !ok {
			return ErrNotFound
		}
		if order.Metadata == nil {
			order.Metadata = make(map[string]string)
		}
		order.Metadata[key] = value
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant.order_metadata(order_id, key, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (order_id, key) DO UPDATE SET value=excluded.value
	`, id, key, value)
	return err
}

func (r *Repository) ListCards(ctx context.Context, customerID string) ([]*models.SavedCard, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.SavedCard
		for _, c := range r.cards[customerID] {
			cp := *c
			out = append(out, &cp)
		}
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT token, masked_pan, expiry_month, expiry_year, is_default
		  FROM merchant.cards WHERE customer_id=$1 ORDER BY created_at
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SavedCard
	for rows.Next() {
		var c models.SavedCard
		if err := rows.Scan(&c.Token, &c.MaskedPAN, &c.ExpiryMonth, &c.ExpiryYear, &c.Default); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *Repository) SaveCard(ctx context.Context, customerID string, card *models.SavedCard) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.cards[customerID] {
			if c.Token == card.Token {
				return ErrConflict
			}
		}
		cp := *card
		r.cards[customerID] = append(r.cards[customerID], &cp)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant.cards(customer_id, token, masked_pan, expiry_month, expiry_year, is_default)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customerID, card.Token, card.MaskedPAN, card.ExpiryMonth, card.ExpiryYear, card.Default)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// DeleteCard removes the token. Deleting the default leaves no default.
func (r *Repository) DeleteCard(ctx context.Context, customerID, token string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		cards := r.cards[customerID]
		for i, c := range cards {
			if c.Token == token {
				r.cards[customerID] = append(cards[:i], cards[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM merchant.cards WHERE customer_id=$1 AND token=$2
	`, customerID, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefaultCard makes token the customer's only default.
func (r *Repository) SetDefaultCard(ctx context.Context, customerID, token string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		cards := r.cards[customerID]
		var target *models.SavedCard
		for _, c := range cards {
			if c.Token == token {
				target = c
				break
			}
		}
		if target == nil {
			return ErrNotFound
		}
		for _, c := range cards {
			c.Default = false
		}
		target.Default = true
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		UPDATE merchant.cards SET is_default=false WHERE customer_id=$1 AND is_default
	`, customerID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE merchant.cards SET is_default=true WHERE customer_id=$1 AND token=$2
	`, customerID, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *Repository) SaveAuthorization(ctx context.Context, auth *models.AuthorizedTransaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.auths[auth.BankTransactionID]; ok {
			return ErrConflict
		}
		cp := *auth
		r.auths[auth.BankTransactionID] = &cp
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant.auths(bank_tid, order_id, amount, currency, status)
		VALUES ($1,$2,$3,$4,$5)
	`, auth.BankTransactionID, auth.OrderID, auth.Amount.StringFixed(2), auth.Currency, string(auth.Status))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *Repository) GetAuthorization(ctx context.Context, bankTransactionID string) (*models.AuthorizedTransaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		auth, ok := r.auths[bankTransactionID]
		if !ok {
			return nil, ErrNotFound
		}
		cp := *auth
		return &cp, nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT bank_tid, order_id, amount, currency, status FROM merchant.auths WHERE bank_tid=$1
	`, bankTransactionID)
	var auth models.AuthorizedTransaction
	var amount, status string
	if err := row.Scan(&auth.BankTransactionID, &auth.OrderID, &amount, &auth.Currency, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing authorization amount: %w", err)
	}
	auth.Amount = dec
	auth.Status = models.AuthorizationStatus(status)
	return &auth, nil
}

func (r *Repository) SetAuthorizationStatus(ctx context.Context, bankTransactionID string, status models.AuthorizationStatus) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		auth, ok := r.auths[bankTransactionID]
		if !ok {
			return ErrNotFound
		}
		auth.Status = status
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE merchant.auths SET status=$2 WHERE bank_tid=$1
	`, bankTransactionID, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
