package merchant

import (
	"context"
	"strings"
	"testing"

	"github.com/corepay/gestpay/merchant/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newBuilderEnv(t *testing.T, cfg *Config, extensions ...ParamExtension) (*ParamsBuilder, *Repository) {
	t.Helper()
	if cfg.ShopLogin == "" {
		cfg.ShopLogin = testShopLogin
	}
	repo := NewRepository()
	return NewParamsBuilder(cfg, repo, testLogger(), extensions...), repo
}

func buildOrder(id int64, total string) *models.Order {
	return &models.Order{
		ID:       id,
		Total:    decimal.RequireFromString(total),
		Currency: "EUR",
		Status:   models.OrderPending,
	}
}

func TestBuildBaseFields(t *testing.T) {
	builder, _ := newBuilderEnv(t, DefaultConfig())

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, testShopLogin, req.ShopLogin)
	require.Equal(t, "242", req.UICCode)
	require.Equal(t, "25.90", req.Amount)
	require.Equal(t, "1001", req.ShopTransactionID)
}

func TestBuildUnknownCurrencyFallsBackToEuro(t *testing.T) {
	builder, _ := newBuilderEnv(t, DefaultConfig())
	order := buildOrder(1001, "25.90")
	order.Currency = "XXX"

	req, err := builder.Build(context.Background(), order, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, "242", req.UICCode)
}

func TestBuildStarterAccountOmitsOptionalFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuyerEmail = true
	cfg.SendBuyerName = true
	cfg.SendLanguage = true
	cfg.SendPaymentTypes = true
	builder, _ := newBuilderEnv(t, cfg)

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), &Buyer{
		Email: "buyer@example.com", FirstName: "Ada", LastName: "Lovelace",
	}, nil, false)
	require.NoError(t, err)
	require.Empty(t, req.BuyerEmail)
	require.Empty(t, req.BuyerName)
	require.Empty(t, req.LanguageID)
	require.Empty(t, req.PaymentType)
}

func TestBuildProfessionalAccountOptionalFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account = AccountProfessional
	cfg.SendBuyerEmail = true
	cfg.SendBuyerName = true
	cfg.SendLanguage = true
	cfg.SendPaymentTypes = true
	cfg.CustomInfo = "shop=main"
	builder, _ := newBuilderEnv(t, cfg)

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), &Buyer{
		Email: "buyer@example.com", FirstName: "Ada", LastName: "Lovelace",
	}, nil, false)
	require.NoError(t, err)
	require.Equal(t, "buyer@example.com", req.BuyerEmail)
	require.Equal(t, "Ada Lovelace", req.BuyerName)
	require.Equal(t, "1", req.LanguageID)
	require.Equal(t, "CREDITCARD", req.PaymentType)
	require.Equal(t, "shop=main", req.CustomInfo)
}

func TestBuildSanitizesAndTruncatesBuyerData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account = AccountProfessional
	cfg.SendBuyerEmail = true
	cfg.SendBuyerName = true
	builder, _ := newBuilderEnv(t, cfg)

	longName := strings.Repeat("x", 60)
	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), &Buyer{
		Email:     " buyer&<evil>@example.com ",
		FirstName: "Ada;",
		LastName:  longName,
	}, nil, false)
	require.NoError(t, err)
	require.Equal(t, "buyerevil@example.com", req.BuyerEmail)
	require.NotContains(t, req.BuyerName, ";")
	require.LessOrEqual(t, len(req.BuyerName), 50)
}

func TestBuildZeroAmountPlaceholder(t *testing.T) {
	builder, repo := newBuilderEnv(t, DefaultConfig())
	order := buildOrder(1001, "0.00")
	require.NoError(t, repo.CreateOrder(context.Background(), order))

	req, err := builder.Build(context.Background(), order, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, "0.01", req.Amount)

	stored, err := repo.LoadOrder(context.Background(), 1001)
	require.NoError(t, err)
	require.Equal(t, "0.01", stored.Meta(models.MetaZeroAmountFix))
	require.Len(t, stored.Notes, 1)
	require.Contains(t, stored.Notes[0], "written off on the first recurring payment")

	// Rebuilding for a retry must not add a second note.
	_, err = builder.Build(context.Background(), order, nil, nil, false)
	require.NoError(t, err)
	stored, err = repo.LoadOrder(context.Background(), 1001)
	require.NoError(t, err)
	require.Len(t, stored.Notes, 1)
}

func TestBuildOverrideAmount(t *testing.T) {
	builder, _ := newBuilderEnv(t, DefaultConfig())
	override := decimal.RequireFromString("9.99")

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, &override, false)
	require.NoError(t, err)
	require.Equal(t, "9.99", req.Amount)
}

func TestBuildTokenRequestGating(t *testing.T) {
	cfg := tokenizedConfig()

	builder, _ := newBuilderEnv(t, cfg)
	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, nil, true)
	require.NoError(t, err)
	require.Equal(t, "MASKEDPAN", req.RequestToken)

	// Renewals never request a fresh token.
	req, err = builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, nil, false)
	require.NoError(t, err)
	require.Empty(t, req.RequestToken)
}

func TestConselExtensionFieldsComeLast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account = AccountProfessional
	cfg.SendPaymentTypes = true
	cfg.PaymentType = "CONSEL"
	builder, _ := newBuilderEnv(t, cfg, ConselExtension{MerchantID: "M123", MerchantPro: "PRO1"})

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, nil, false)
	require.NoError(t, err)

	fields := req.Fields()
	require.Equal(t, "IdMerchant", fields[len(fields)-2].Name)
	require.Equal(t, "M123", fields[len(fields)-2].Value)
	require.Equal(t, "Consel_MerchantPro", fields[len(fields)-1].Name)
}

func TestConselExtensionSkipsOtherPaymentTypes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account = AccountProfessional
	cfg.SendPaymentTypes = true
	builder, _ := newBuilderEnv(t, cfg, ConselExtension{MerchantID: "M123"})

	req, err := builder.Build(context.Background(), buildOrder(1001, "25.90"), nil, nil, false)
	require.NoError(t, err)
	require.Empty(t, req.Extra)
}
