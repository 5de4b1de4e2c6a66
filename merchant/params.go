package merchant

import (
	"context"
	"fmt"

	"github.com/corepay/gestpay/gateway"
	"github.com/corepay/gestpay/internal/sanitize"
	"github.com/corepay/gestpay/internal/uic"
	"github.com/corepay/gestpay/merchant/models"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// minimumAmount is the placeholder charge for zero-total orders: the
// gateway rejects a literal zero amount.
var minimumAmount = decimal.RequireFromString("0.01")

const zeroAmountNote = "Charged 0.01 to work around the gateway rejection of zero amounts. " +
	"The amount will be written off on the first recurring payment."

// ParamExtension appends payment-type specific fields to an assembled
// request. Extensions run as the last build step, in registration order.
type ParamExtension interface {
	Extend(paymentType string, req *gateway.Request)
}

// ConselExtension adds the CONSEL sub-gateway convention fields when the
// CONSEL payment type is selected.
type ConselExtension struct {
	MerchantID  string
	MerchantPro string
}

func (e ConselExtension) Extend(paymentType string, req *gateway.Request) {
	if paymentType != "CONSEL" {
		return
	}
	req.Extra = append(req.Extra,
		gateway.Field{Name: "IdMerchant", Value: e.MerchantID},
		gateway.Field{Name: "Consel_MerchantPro", Value: e.MerchantPro},
	)
}

// Buyer is checkout contact data handed in by the surrounding shop.
type Buyer struct {
	Email     string
	FirstName string
	LastName  string
}

// ParamsBuilder assembles the outbound transaction request for an order
// from the merchant configuration.
type ParamsBuilder struct {
	cfg        *Config
	orders     OrderStore
	extensions []ParamExtension
	logger     *slog.Logger
}

func NewParamsBuilder(cfg *Config, orders OrderStore, logger *slog.Logger, extensions ...ParamExtension) *ParamsBuilder {
	return &ParamsBuilder{
		cfg:        cfg,
		orders:     orders,
		extensions: extensions,
		logger:     logger.With(slog.String("component", "params_builder")),
	}
}

// Build assembles the request. overrideAmount, when non-nil, replaces the
// order total (used to subtract the zero-amount placeholder on the first
// real charge). includeTokenRequest must be false for recurring renewals,
// where a new token cannot be requested.
func (b *ParamsBuilder) Build(ctx context.Context, order *models.Order, buyer *Buyer, overrideAmount *decimal.Decimal, includeTokenRequest bool) (*gateway.Request, error) {
	amount := order.Total
	if overrideAmount != nil {
		amount = *overrideAmount
	}

	if amount.IsZero() {
		amount = minimumAmount
		if err := b.recordZeroAmountFix(ctx, order); err != nil {
			return nil, err
		}
	}

	req := &gateway.Request{
		ShopLogin:         b.cfg.ShopLogin,
		UICCode:           uic.Code(order.Currency),
		Amount:            amount.StringFixed(2),
		ShopTransactionID: fmt.Sprintf("%d", order.ID),
	}

	if b.cfg.Account != AccountStarter {
		if b.cfg.SendPaymentTypes {
			req.PaymentType = b.cfg.PaymentType
		}
		if b.cfg.SendBuyerEmail && buyer != nil {
			req.BuyerEmail = sanitize.CleanTruncate(buyer.Email, 50)
		}
		if b.cfg.SendBuyerName && buyer != nil {
			name := sanitize.Clean(buyer.FirstName) + " " + sanitize.Clean(buyer.LastName)
			req.BuyerName = sanitize.Truncate(name, 50)
		}
		if b.cfg.SendLanguage {
			req.LanguageID = b.cfg.LanguageID
		}
		if b.cfg.CustomInfo != "" {
			req.CustomInfo = b.cfg.CustomInfo
		}
		if includeTokenRequest && b.cfg.SaveTokens && b.cfg.Tokenized() {
			req.RequestToken = "MASKEDPAN"
		}

		// Payment-type extensions run last, single pass, in order.
		for _, ext := range b.extensions {
			ext.Extend(b.cfg.PaymentType, req)
		}
	}

	return req, nil
}

// recordZeroAmountFix marks the order with the one-cent placeholder
// exactly once, even when the request is rebuilt after a failed attempt.
func (b *ParamsBuilder) recordZeroAmountFix(ctx context.Context, order *models.Order) error {
	if order.Meta(models.MetaZeroAmountFix) != "" {
		return nil
	}

	b.logger.Info("zero-amount order, charging placeholder",
		slog.Int64("order_id", order.ID),
		slog.String("amount", minimumAmount.StringFixed(2)),
	)

	if err := b.orders.SetOrderMetadata(ctx, order.ID, models.MetaZeroAmountFix, minimumAmount.StringFixed(2)); err != nil {
		return fmt.Errorf("recording zero-amount fix: %w", err)
	}
	if err := b.orders.AppendOrderNote(ctx, order.ID, zeroAmountNote); err != nil {
		return fmt.Errorf("recording zero-amount note: %w", err)
	}
	if order.Metadata == nil {
		order.Metadata = make(map[string]string)
	}
	order.Metadata[models.MetaZeroAmountFix] = minimumAmount.StringFixed(2)

	return nil
}
