package merchant

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/corepay/gestpay/gateway"
	"github.com/corepay/gestpay/merchant/models"
	"golang.org/x/exp/slog"
)

const (
	completedNote        = "Transaction for order %d has been completed successfully."
	failedNote           = "Transaction for order %d failed with error %s"
	duplicateFailureNote = "Ignored failed gateway callback for order %d already paid: %s"
)

// CallbackParams is one inbound callback delivery, already pulled out of
// the transport request.
type CallbackParams struct {
	ShopLogin     string // query parameter "a"
	CryptedString string // query parameter "b"

	// UserAgent distinguishes browser redirects from the gateway's
	// machine-to-machine delivery, which sends no user agent.
	UserAgent string

	// 3-D Secure step-up return artifacts.
	OrderID int64
	PARes   string
}

// CallbackOutcome tells the transport layer how to terminate the request.
// Processing always ends the response cycle.
type CallbackOutcome struct {
	// Ignored marks callbacks that were not ours or failed validation;
	// nothing was mutated and nothing should be redirected.
	Ignored bool

	OrderID int64

	// RedirectURL, when set, sends the buyer's browser to the order
	// received page. Machine-to-machine deliveries get no redirect.
	RedirectURL string

	// ClearTransients asks the transport layer to clear step-up cookies.
	ClearTransients bool
}

// Reconciler validates gateway callbacks and applies them to orders as
// idempotent state transitions, tolerating duplicate and out-of-order
// delivery on either transport path.
type Reconciler struct {
	cfg       *Config
	crypt     *gateway.Client
	s2s       *gateway.S2SClient
	orders    OrderStore
	cards     CardStore
	transient TransientStore
	hooks     []Hook
	logger    *slog.Logger
}

func NewReconciler(cfg *Config, crypt *gateway.Client, s2s *gateway.S2SClient, orders OrderStore, cards CardStore, transient TransientStore, logger *slog.Logger, hooks ...Hook) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		crypt:     crypt,
		s2s:       s2s,
		orders:    orders,
		cards:     cards,
		transient: transient,
		hooks:     hooks,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile handles one callback delivery. Transport and decryption errors
// abort without order mutation, so the gateway can safely redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, p CallbackParams) (*CallbackOutcome, error) {
	browserCall := p.UserAgent != ""

	// 3-D Secure continuation runs before anything else: the buyer is
	// returning from the issuer's step-up page and the transaction must
	// be resumed with the stored continuation key.
	if r.cfg.IsS2S() && p.PARes != "" && p.OrderID > 0 {
		return r.continueStepUp(ctx, p, browserCall)
	}

	// Not our callback unless both parameters are present. Silent no-op,
	// deliberately not an error: unrelated requests also land here.
	if p.ShopLogin == "" || p.CryptedString == "" {
		return &CallbackOutcome{Ignored: true}, nil
	}

	if browserCall {
		r.logger.Info("checking gateway response")
	} else {
		r.logger.Info("checking server-to-server gateway response")
	}

	resp, err := r.crypt.Decrypt(ctx, p.ShopLogin, p.CryptedString)
	if err != nil {
		// Fatal for this delivery; no order was touched.
		return nil, err
	}

	orderID, err := resp.OrderID()
	if err != nil {
		// Forged or malformed callback: abort with no mutation.
		r.logger.Warn("callback carried no usable order reference", "err", err)
		return &CallbackOutcome{Ignored: true}, nil
	}

	if err := r.Apply(ctx, orderID, resp); err != nil {
		return nil, err
	}

	return r.terminal(ctx, orderID, browserCall), nil
}

func (r *Reconciler) continueStepUp(ctx context.Context, p CallbackParams, browserCall bool) (*CallbackOutcome, error) {
	transKey, err := r.transient.Get(ctx, transientTransKeyKey+strconv.FormatInt(p.OrderID, 10))
	if errors.Is(err, ErrNotFound) {
		r.logger.Warn("step-up return without stored continuation key", slog.Int64("order_id", p.OrderID))
		return &CallbackOutcome{Ignored: true}, nil
	}
	if err != nil {
		return nil, err
	}

	resp, err := r.s2s.Continue3DS(ctx, r.cfg.ShopLogin, transKey, p.PARes)
	if err != nil {
		return nil, err
	}

	if err := r.Apply(ctx, p.OrderID, resp); err != nil {
		return nil, err
	}

	return r.terminal(ctx, p.OrderID, browserCall), nil
}

// terminal builds the outcome that ends the request cycle, clearing
// step-up transients on the browser path.
func (r *Reconciler) terminal(ctx context.Context, orderID int64, browserCall bool) *CallbackOutcome {
	out := &CallbackOutcome{OrderID: orderID}
	if !browserCall {
		return out
	}

	id := strconv.FormatInt(orderID, 10)
	if err := r.transient.Delete(ctx, transientEncStringKey+id); err != nil {
		r.logger.Error("clearing cached ciphertext", "err", err)
	}
	if err := r.transient.Delete(ctx, transientTransKeyKey+id); err != nil {
		r.logger.Error("clearing continuation key", "err", err)
	}

	out.RedirectURL = r.cfg.OrderReceivedURL
	out.ClearTransients = true
	return out
}

// Apply performs the idempotent state transition for a decrypted gateway
// result. It is shared by the callback path and the S2S orchestrator.
func (r *Reconciler) Apply(ctx context.Context, orderID int64, resp *gateway.Response) error {
	order, err := r.orders.LoadOrder(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		// References we never issued are treated like forged callbacks.
		r.logger.Warn("callback for unknown order", slog.Int64("order_id", orderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading order %d: %w", orderID, err)
	}

	for _, h := range r.hooks {
		h.BeforeProcessing(ctx, order)
	}

	if !resp.OK() {
		return r.applyFailure(ctx, order, resp)
	}
	return r.applySuccess(ctx, order, resp)
}

func (r *Reconciler) applyFailure(ctx context.Context, order *models.Order, resp *gateway.Response) error {
	errText := resp.ErrorText()

	// Never lose an earlier success: a KO callback against a paid order
	// only documents the duplicate attempt.
	if order.Status.Paid() {
		note := fmt.Sprintf(duplicateFailureNote, order.ID, errText)
		if err := r.orders.AppendOrderNote(ctx, order.ID, note); err != nil {
			return fmt.Errorf("recording duplicate failure: %w", err)
		}
		r.logger.Info("kept paid order despite failed callback",
			slog.Int64("order_id", order.ID),
			slog.String("gateway_error", errText),
		)
		return nil
	}

	note := fmt.Sprintf(failedNote, order.ID, errText)
	order.Status = models.OrderFailed
	if err := r.orders.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("failing order %d: %w", order.ID, err)
	}
	if err := r.orders.AppendOrderNote(ctx, order.ID, note); err != nil {
		return fmt.Errorf("recording failure note: %w", err)
	}

	r.logger.Error("transaction failed",
		slog.Int64("order_id", order.ID),
		slog.String("gateway_error", errText),
	)

	for _, h := range r.hooks {
		h.AfterFailed(ctx, order, resp)
	}
	return nil
}

func (r *Reconciler) applySuccess(ctx context.Context, order *models.Order, resp *gateway.Response) error {
	// Idempotence guard: duplicate delivery of a successful callback must
	// not double-fulfill the order.
	if order.Status.Paid() {
		r.logger.Info("duplicate success callback ignored", slog.Int64("order_id", order.ID))
		return nil
	}

	r.maybeSaveToken(ctx, order, resp)

	reference := ""
	if resp.BankTransactionID != "" {
		reference = resp.BankTransactionID
		if err := r.orders.SetOrderMetadata(ctx, order.ID, models.MetaBankTransactionID, resp.BankTransactionID); err != nil {
			return fmt.Errorf("recording bank transaction id: %w", err)
		}
	}
	if resp.AuthorizationCode != "" {
		reference += " / " + resp.AuthorizationCode
	}

	note := fmt.Sprintf(completedNote, order.ID)
	if reference != "" {
		note += " Reference: " + reference
	}

	order.Status = models.OrderCompleted
	if err := r.orders.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("completing order %d: %w", order.ID, err)
	}
	if err := r.orders.AppendOrderNote(ctx, order.ID, note); err != nil {
		return fmt.Errorf("recording completion note: %w", err)
	}

	r.logger.Info("transaction completed",
		slog.Int64("order_id", order.ID),
		slog.String("bank_transaction_id", resp.BankTransactionID),
	)

	for _, h := range r.hooks {
		h.AfterCompleted(ctx, order, resp)
	}
	return nil
}

// maybeSaveToken persists a gateway-issued card token: tokenized accounts
// only, recurring orders only, at most one token per eligible order.
// Token storage is best-effort and never fails the payment.
func (r *Reconciler) maybeSaveToken(ctx context.Context, order *models.Order, resp *gateway.Response) {
	if !r.cfg.Tokenized() || !r.cfg.SaveTokens || resp.Token == "" {
		return
	}
	if !order.Recurring {
		r.logger.Info("order has no recurring relationship, token not saved", slog.Int64("order_id", order.ID))
		return
	}
	if order.Meta(models.MetaCardToken) != "" {
		return
	}

	if err := r.orders.SetOrderMetadata(ctx, order.ID, models.MetaCardToken, resp.Token); err != nil {
		r.logger.Error("storing token on order", "err", err, slog.Int64("order_id", order.ID))
		return
	}
	if order.Metadata == nil {
		order.Metadata = make(map[string]string)
	}
	order.Metadata[models.MetaCardToken] = resp.Token

	if order.CustomerID == "" || r.cards == nil {
		return
	}

	month, _ := strconv.Atoi(resp.TokenExpiryMonth)
	year, _ := strconv.Atoi(resp.TokenExpiryYear)
	err := r.cards.SaveCard(ctx, order.CustomerID, &models.SavedCard{
		Token:       resp.Token,
		MaskedPAN:   resp.Token,
		ExpiryMonth: month,
		ExpiryYear:  year,
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		r.logger.Error("saving customer card", "err", err, slog.String("customer_id", order.CustomerID))
	}
}
