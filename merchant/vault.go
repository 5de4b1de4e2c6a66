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

// Vault manages a customer's saved card tokens. Local records mirror the
// gateway's token store; deleting a card revokes the token at the gateway
// before dropping it locally.
type Vault struct {
	cfg    *Config
	cards  CardStore
	s2s    *gateway.S2SClient
	logger *slog.Logger
}

func NewVault(cfg *Config, cards CardStore, s2s *gateway.S2SClient, logger *slog.Logger) *Vault {
	return &Vault{
		cfg:    cfg,
		cards:  cards,
		s2s:    s2s,
		logger: logger.With(slog.String("component", "vault")),
	}
}

// ListCards returns the customer's saved cards, default first.
func (v *Vault) ListCards(ctx context.Context, customerID string) ([]*models.SavedCard, error) {
	return v.cards.ListCards(ctx, customerID)
}

// SaveCard tokenizes the card at the gateway and stores the resulting
// token for the customer. Requires a tokenization-capable account.
func (v *Vault) SaveCard(ctx context.Context, customerID string, card gateway.CardData) (*models.SavedCard, error) {
	if !v.cfg.Tokenized() {
		return nil, fmt.Errorf("account %q does not support card tokens", v.cfg.Account)
	}

	resp, err := v.s2s.RequestToken(ctx, v.cfg.ShopLogin, card)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("tokenization rejected by gateway: %s", resp.ErrorText())
	}
	if resp.Token == "" {
		return nil, &gateway.MalformedResponse{Op: "callRequestTokenS2S", Reason: "no token in successful response"}
	}

	month, _ := strconv.Atoi(card.ExpiryMonth)
	year, _ := strconv.Atoi(card.ExpiryYear)
	saved := &models.SavedCard{
		Token:       resp.Token,
		MaskedPAN:   maskPAN(card.Number),
		ExpiryMonth: month,
		ExpiryYear:  year,
	}
	if err := v.cards.SaveCard(ctx, customerID, saved); err != nil {
		if errors.Is(err, ErrConflict) {
			return saved, nil
		}
		return nil, err
	}

	v.logger.Info("card token stored", slog.String("customer_id", customerID), slog.String("masked_pan", saved.MaskedPAN))
	return saved, nil
}

// DeleteCard revokes the token at the gateway, then removes the local
// record. A token already unknown to the gateway is treated as revoked.
func (v *Vault) DeleteCard(ctx context.Context, customerID, token string) error {
	resp, err := v.s2s.DeleteToken(ctx, v.cfg.ShopLogin, token)
	if err != nil {
		return err
	}
	if !resp.OK() {
		v.logger.Warn("gateway refused token deletion, dropping local record anyway",
			slog.String("customer_id", customerID),
			slog.String("error", resp.ErrorText()),
		)
	}
	return v.cards.DeleteCard(ctx, customerID, token)
}

// SetDefaultCard marks one of the customer's tokens as the default for
// future tokenized payments.
func (v *Vault) SetDefaultCard(ctx context.Context, customerID, token string) error {
	return v.cards.SetDefaultCard(ctx, customerID, token)
}

// DefaultToken returns the customer's default token, or the only saved
// token if none is marked default. Empty when the customer has no cards.
func (v *Vault) DefaultToken(ctx context.Context, customerID string) (string, error) {
	cards, err := v.cards.ListCards(ctx, customerID)
	if err != nil {
		return "", err
	}
	for _, c := range cards {
		if c.Default {
			return c.Token, nil
		}
	}
	if len(cards) == 1 {
		return cards[0].Token, nil
	}
	return "", nil
}

// maskPAN keeps the first six and last four digits, the industry-standard
// disclosure window.
func maskPAN(pan string) string {
	if len(pan) < 10 {
		return pan
	}
	masked := []byte(pan)
	for i := 6; i < len(masked)-4; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
