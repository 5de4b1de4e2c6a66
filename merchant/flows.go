package merchant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/corepay/gestpay/gateway"
	"github.com/corepay/gestpay/internal/uic"
	"github.com/corepay/gestpay/merchant/models"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// maxEncryptAttempts bounds the re-encryption loop for ciphertexts the
// gateway itself would reject.
const maxEncryptAttempts = 50

// invalidMarker appears in ciphertexts the gateway occasionally returns
// and then refuses to accept back.
const invalidMarker = "*"

// S2S authorization outcomes.
const (
	S2SCompleted = "completed"
	S2SFailed    = "failed"
	S2SStepUp    = "stepup"
)

// Checkout sequences the three payment flows (redirect, iframe, direct
// server-to-server) over the shared reconciler.
type Checkout struct {
	cfg        *Config
	builder    *ParamsBuilder
	crypt      *gateway.Client
	s2s        *gateway.S2SClient
	orders     OrderStore
	auths      AuthStore
	transient  TransientStore
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewCheckout(cfg *Config, builder *ParamsBuilder, crypt *gateway.Client, s2s *gateway.S2SClient, orders OrderStore, auths AuthStore, transient TransientStore, reconciler *Reconciler, logger *slog.Logger) *Checkout {
	return &Checkout{
		cfg:        cfg,
		builder:    builder,
		crypt:      crypt,
		s2s:        s2s,
		orders:     orders,
		auths:      auths,
		transient:  transient,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "checkout")),
	}
}

// RedirectURL runs the full-page redirect flow: build, encrypt, and hand
// back the hosted payment page URL carrying shop login and ciphertext.
func (c *Checkout) RedirectURL(ctx context.Context, orderID int64, buyer *Buyer) (string, error) {
	order, err := c.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("loading order %d: %w", orderID, err)
	}

	crypted, err := c.encryptForOrder(ctx, order, buyer)
	if err != nil {
		return "", err
	}

	// The ciphertext must reach the gateway byte-for-byte; deliberately
	// no query re-encoding here.
	return c.cfg.Endpoints().PaymentURL + "?a=" + c.cfg.ShopLogin + "&b=" + crypted, nil
}

// encryptForOrder encrypts the built request, optionally retrying while
// the ciphertext carries the gateway's invalid marker. The loop is
// sequential and hard-bounded.
func (c *Checkout) encryptForOrder(ctx context.Context, order *models.Order, buyer *Buyer) (string, error) {
	req, err := c.builder.Build(ctx, order, buyer, nil, true)
	if err != nil {
		return "", err
	}

	crypted, err := c.crypt.Encrypt(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Info("ciphertext obtained", slog.Int64("order_id", order.ID), slog.Int("attempt", 0))

	if !c.cfg.ForceRecrypt {
		return crypted, nil
	}

	for attempt := 1; strings.Contains(crypted, invalidMarker) && attempt < maxEncryptAttempts; attempt++ {
		crypted, err = c.crypt.Encrypt(ctx, req)
		if err != nil {
			return "", err
		}
		c.logger.Info("ciphertext re-encrypted", slog.Int64("order_id", order.ID), slog.Int("attempt", attempt))
	}

	return crypted, nil
}

// IframeSession is the data the embedded payment page needs. On the
// second load (after a 3-D Secure round trip) the cached ciphertext and
// continuation key are replayed instead of re-encrypting.
type IframeSession struct {
	ShopLogin       string `json:"shop_login"`
	EncryptedString string `json:"encrypted_string"`
	IframeJS        string `json:"iframe_js"`
	TransKey        string `json:"trans_key,omitempty"`
	PARes           string `json:"pa_res,omitempty"`
}

func (c *Checkout) IframeSession(ctx context.Context, orderID int64, buyer *Buyer, paRes string) (*IframeSession, error) {
	order, err := c.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", orderID, err)
	}

	id := strconv.FormatInt(orderID, 10)

	crypted, err := c.transient.Get(ctx, transientEncStringKey+id)
	if errors.Is(err, ErrNotFound) {
		crypted, err = c.encryptForOrder(ctx, order, buyer)
		if err != nil {
			return nil, err
		}
		if err := c.transient.Set(ctx, transientEncStringKey+id, crypted, StepUpTTL); err != nil {
			return nil, fmt.Errorf("caching ciphertext: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	transKey, err := c.transient.Get(ctx, transientTransKeyKey+id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return &IframeSession{
		ShopLogin:       c.cfg.ShopLogin,
		EncryptedString: crypted,
		IframeJS:        c.cfg.Endpoints().IframeJS,
		TransKey:        transKey,
		PARes:           paRes,
	}, nil
}

// StoreTransKey records the 3-D Secure continuation key issued to the
// embedded payment page when the card turns out to be enrolled.
func (c *Checkout) StoreTransKey(ctx context.Context, orderID int64, transKey string) error {
	if transKey == "" {
		return fmt.Errorf("continuation key is required")
	}
	return c.transient.Set(ctx, transientTransKeyKey+strconv.FormatInt(orderID, 10), transKey, StepUpTTL)
}

// S2SResult is the outcome of a direct authorization attempt.
type S2SResult struct {
	Status    string `json:"status"`
	StepUpURL string `json:"step_up_url,omitempty"`

	BankTransactionID string `json:"bank_transaction_id,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorDescription  string `json:"error_description,omitempty"`
}

// AuthorizeS2S runs the server-to-server flow: card data (or a saved
// token) goes straight to the gateway's tokenized endpoint. An enrolled
// card yields a step-up redirect; terminal outcomes flow through the
// reconciler's idempotent transition.
func (c *Checkout) AuthorizeS2S(ctx context.Context, orderID int64, buyer *Buyer, card *gateway.CardData, token string) (*S2SResult, error) {
	if card == nil && token == "" {
		return nil, fmt.Errorf("card data or token is required")
	}

	order, err := c.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", orderID, err)
	}

	req, err := c.builder.Build(ctx, order, buyer, nil, token == "")
	if err != nil {
		return nil, err
	}

	resp, err := c.s2s.Authorize(ctx, &gateway.S2SAuth{
		ShopLogin:         req.ShopLogin,
		UICCode:           req.UICCode,
		Amount:            req.Amount,
		ShopTransactionID: req.ShopTransactionID,
		Card:              card,
		Token:             token,
		BuyerName:         req.BuyerName,
		BuyerEmail:        req.BuyerEmail,
		LanguageID:        req.LanguageID,
		CustomInfo:        req.CustomInfo,
		RequestToken:      req.RequestToken != "",
		Extra:             req.Extra,
	})
	if err != nil {
		return nil, err
	}

	if resp.Enrolled() {
		return c.beginStepUp(ctx, order, resp)
	}

	if resp.OK() {
		c.recordAuthorization(ctx, order, req, resp)
	}

	if err := c.reconciler.Apply(ctx, order.ID, resp); err != nil {
		return nil, err
	}

	result := &S2SResult{
		BankTransactionID: resp.BankTransactionID,
		ErrorCode:         resp.ErrorCode,
		ErrorDescription:  resp.ErrorDescription,
	}
	if resp.OK() {
		result.Status = S2SCompleted
	} else {
		result.Status = S2SFailed
	}
	return result, nil
}

func (c *Checkout) beginStepUp(ctx context.Context, order *models.Order, resp *gateway.Response) (*S2SResult, error) {
	id := strconv.FormatInt(order.ID, 10)

	if err := c.transient.Set(ctx, transientTransKeyKey+id, resp.TransactionKey, StepUpTTL); err != nil {
		return nil, fmt.Errorf("storing continuation key: %w", err)
	}
	if err := c.orders.SetOrderMetadata(ctx, order.ID, models.MetaTransactionKey, resp.TransactionKey); err != nil {
		return nil, fmt.Errorf("recording continuation key: %w", err)
	}

	returnURL := c.cfg.CallbackURL + "?order=" + id

	c.logger.Info("card enrolled, redirecting to step-up",
		slog.Int64("order_id", order.ID),
	)

	return &S2SResult{
		Status: S2SStepUp,
		StepUpURL: c.cfg.Endpoints().ThreeDSURL +
			"?a=" + c.cfg.ShopLogin +
			"&b=" + resp.StepUpBlob() +
			"&c=" + url.QueryEscape(returnURL),
	}, nil
}

// recordAuthorization tracks the pending authorization for the deferred
// settle/void actions. Best-effort: a duplicate delivery is not an error.
func (c *Checkout) recordAuthorization(ctx context.Context, order *models.Order, req *gateway.Request, resp *gateway.Response) {
	if resp.BankTransactionID == "" {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		amount = order.Total
	}
	err = c.auths.SaveAuthorization(ctx, &models.AuthorizedTransaction{
		BankTransactionID: resp.BankTransactionID,
		OrderID:           order.ID,
		Amount:            amount,
		Currency:          order.Currency,
		Status:            models.AuthorizationAuthorized,
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		c.logger.Error("recording authorization", "err", err, slog.Int64("order_id", order.ID))
	}

	if resp.TransactionKey != "" {
		if err := c.orders.SetOrderMetadata(ctx, order.ID, models.MetaTransactionKey, resp.TransactionKey); err != nil {
			c.logger.Error("recording transaction key", "err", err, slog.Int64("order_id", order.ID))
		}
	}
}

// Settle captures an authorized transaction. A nil amount captures the
// full authorized amount.
func (c *Checkout) Settle(ctx context.Context, orderID int64, amount *decimal.Decimal) error {
	order, bankTID, err := c.orderWithBankTID(ctx, orderID)
	if err != nil {
		return err
	}

	auth, err := c.auths.GetAuthorization(ctx, bankTID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if auth != nil && auth.Status != models.AuthorizationAuthorized {
		return fmt.Errorf("transaction %s is %s, not authorized", bankTID, auth.Status)
	}

	settleAmount := order.Total
	if auth != nil {
		settleAmount = auth.Amount
	}
	if amount != nil {
		settleAmount = *amount
	}

	resp, err := c.s2s.Settle(ctx, c.cfg.ShopLogin, uic.Code(order.Currency), settleAmount.StringFixed(2), strconv.FormatInt(orderID, 10), bankTID)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("settle rejected by gateway: %s", resp.ErrorText())
	}

	if auth != nil {
		if err := c.auths.SetAuthorizationStatus(ctx, bankTID, models.AuthorizationSettled); err != nil {
			return err
		}
	}
	note := fmt.Sprintf("Transaction settled for %s [BankTransactionID: %s]", settleAmount.StringFixed(2), bankTID)
	return c.orders.AppendOrderNote(ctx, orderID, note)
}

// Void deletes an authorized, not yet settled transaction.
func (c *Checkout) Void(ctx context.Context, orderID int64) error {
	_, bankTID, err := c.orderWithBankTID(ctx, orderID)
	if err != nil {
		return err
	}

	auth, err := c.auths.GetAuthorization(ctx, bankTID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if auth != nil && auth.Status != models.AuthorizationAuthorized {
		return fmt.Errorf("transaction %s is %s, not authorized", bankTID, auth.Status)
	}

	resp, err := c.s2s.Void(ctx, c.cfg.ShopLogin, strconv.FormatInt(orderID, 10), bankTID)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("delete rejected by gateway: %s", resp.ErrorText())
	}

	if auth != nil {
		if err := c.auths.SetAuthorizationStatus(ctx, bankTID, models.AuthorizationVoided); err != nil {
			return err
		}
	}
	note := fmt.Sprintf("Authorized transaction deleted successfully [BankTransactionID: %s]", bankTID)
	return c.orders.AppendOrderNote(ctx, orderID, note)
}

// Refund returns a settled amount to the buyer.
func (c *Checkout) Refund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) error {
	order, bankTID, err := c.orderWithBankTID(ctx, orderID)
	if err != nil {
		return err
	}

	resp, err := c.s2s.Refund(ctx, c.cfg.ShopLogin, uic.Code(order.Currency), amount.StringFixed(2), strconv.FormatInt(orderID, 10), bankTID)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("refund rejected by gateway: %s", resp.ErrorText())
	}

	note := fmt.Sprintf("Refunded %s [BankTransactionID: %s]", amount.StringFixed(2), bankTID)
	if reason != "" {
		note += " Reason: " + reason
	}
	return c.orders.AppendOrderNote(ctx, orderID, note)
}

func (c *Checkout) orderWithBankTID(ctx context.Context, orderID int64) (*models.Order, string, error) {
	order, err := c.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("loading order %d: %w", orderID, err)
	}
	bankTID := order.Meta(models.MetaBankTransactionID)
	if bankTID == "" {
		return nil, "", fmt.Errorf("order %d has no bank transaction id", orderID)
	}
	return order, bankTID, nil
}
