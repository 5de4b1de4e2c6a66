package gateway

import (
	"context"
	"net/http"

	"golang.org/x/exp/slog"
)

// CardData is card input collected for a direct server-to-server
// authorization. It is forwarded to the gateway and never persisted.
type CardData struct {
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

// S2SAuth is a tokenized direct-authorization request against the
// gateway's server-to-server endpoint. Exactly one of Card or Token must
// be set.
type S2SAuth struct {
	ShopLogin         string
	UICCode           string
	Amount            string
	ShopTransactionID string

	Card  *CardData
	Token string

	BuyerName  string
	BuyerEmail string
	LanguageID string
	CustomInfo string

	// RequestToken asks the gateway to issue a reusable token with the
	// authorization.
	RequestToken bool

	Extra []Field
}

func (a *S2SAuth) fields() []Field {
	fields := []Field{
		{Name: "shopLogin", Value: a.ShopLogin},
		{Name: "uicCode", Value: a.UICCode},
		{Name: "amount", Value: a.Amount},
		{Name: "shopTransactionId", Value: a.ShopTransactionID},
	}

	if a.Token != "" {
		fields = append(fields, Field{Name: "tokenValue", Value: a.Token})
	} else if a.Card != nil {
		fields = append(fields,
			Field{Name: "cardNumber", Value: a.Card.Number},
			Field{Name: "expiryMonth", Value: a.Card.ExpiryMonth},
			Field{Name: "expiryYear", Value: a.Card.ExpiryYear},
		)
		if a.Card.CVV != "" {
			fields = append(fields, Field{Name: "cvv", Value: a.Card.CVV})
		}
	}

	for _, opt := range []Field{
		{Name: "buyerName", Value: a.BuyerName},
		{Name: "buyerEmail", Value: a.BuyerEmail},
		{Name: "languageId", Value: a.LanguageID},
		{Name: "customInfo", Value: a.CustomInfo},
	} {
		if opt.Value != "" {
			fields = append(fields, opt)
		}
	}
	if a.RequestToken {
		fields = append(fields, Field{Name: "requestToken", Value: "MASKEDPAN"})
	}

	return append(fields, a.Extra...)
}

// S2SClient calls the gateway's server-to-server web service: direct
// authorization, 3-D Secure continuation, and the deferred settle/void/
// refund actions on authorized transactions.
type S2SClient struct {
	crypt *Client
}

func NewS2SClient(url string, hc *http.Client, logger *slog.Logger) *S2SClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &S2SClient{
		crypt: &Client{
			url:    url,
			http:   hc,
			logger: logger.With(slog.String("component", "s2s_client")),
		},
	}
}

// Authorize submits a direct authorization. The response may report OK,
// KO, or demand a 3-D Secure step-up (Enrolled).
func (c *S2SClient) Authorize(ctx context.Context, auth *S2SAuth) (*Response, error) {
	return c.crypt.call(ctx, "callPagamS2S", auth.fields())
}

// Continue3DS resumes an enrolled authorization after the cardholder
// returns from the issuer's step-up page.
func (c *S2SClient) Continue3DS(ctx context.Context, shopLogin, transKey, paRes string) (*Response, error) {
	return c.crypt.call(ctx, "callPagamS2S", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "transKey", Value: transKey},
		{Name: "PARes", Value: paRes},
	})
}

// Settle captures an authorized transaction (full or partial amount).
func (c *S2SClient) Settle(ctx context.Context, shopLogin, uicCode, amount, shopTransactionID, bankTransactionID string) (*Response, error) {
	return c.crypt.call(ctx, "callSettleS2S", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "uicCode", Value: uicCode},
		{Name: "amount", Value: amount},
		{Name: "shopTransactionId", Value: shopTransactionID},
		{Name: "bankTransactionId", Value: bankTransactionID},
	})
}

// Void deletes an authorized, not yet settled transaction.
func (c *S2SClient) Void(ctx context.Context, shopLogin, shopTransactionID, bankTransactionID string) (*Response, error) {
	return c.crypt.call(ctx, "callDeleteS2S", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "shopTransactionId", Value: shopTransactionID},
		{Name: "bankTransactionId", Value: bankTransactionID},
		{Name: "cancelReason", Value: "Merchant void"},
	})
}

// Refund returns a settled amount to the buyer.
func (c *S2SClient) Refund(ctx context.Context, shopLogin, uicCode, amount, shopTransactionID, bankTransactionID string) (*Response, error) {
	return c.crypt.call(ctx, "callRefundS2S", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "uicCode", Value: uicCode},
		{Name: "amount", Value: amount},
		{Name: "shopTransactionId", Value: shopTransactionID},
		{Name: "bankTransactionId", Value: bankTransactionID},
	})
}

// DeleteToken invalidates a stored card token at the gateway.
func (c *S2SClient) DeleteToken(ctx context.Context, shopLogin, token string) (*Response, error) {
	return c.crypt.call(ctx, "callDeleteTokenS2S", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "tokenValue", Value: token},
	})
}

// RequestToken tokenizes card data without charging it.
func (c *S2SClient) RequestToken(ctx context.Context, shopLogin string, card CardData) (*Response, error) {
	fields := []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "requestToken", Value: "MASKEDPAN"},
		{Name: "cardNumber", Value: card.Number},
		{Name: "expiryMonth", Value: card.ExpiryMonth},
		{Name: "expiryYear", Value: card.ExpiryYear},
	}
	if card.CVV != "" {
		fields = append(fields, Field{Name: "cvv", Value: card.CVV})
	}
	return c.crypt.call(ctx, "callRequestTokenS2S", fields)
}
