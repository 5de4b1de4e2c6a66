package merchant

import (
	"fmt"
	"os"
)

// Account selects which gateway integration variant the shop uses.
type Account int

const (
	AccountStarter Account = iota
	AccountProfessional
	AccountTokenS2S
	AccountTokenIframe
)

// Endpoints is one environment's set of gateway URLs. Sandbox and
// production are never mixed within a deployment.
type Endpoints struct {
	CryptURL   string // encrypt/decrypt web service
	PaymentURL string // hosted payment page
	S2SURL     string // server-to-server web service
	ThreeDSURL string // 3-D Secure step-up page
	IframeJS   string // iframe bootstrap script
}

var (
	sandboxEndpoints = Endpoints{
		CryptURL:   "https://testecomm.sella.it/gestpay/gestpayws/WSCryptDecrypt.asmx",
		PaymentURL: "https://testecomm.sella.it/gestpay/pagam.asp",
		S2SURL:     "https://testecomm.sella.it/gestpay/GestPayWS/WsS2S.asmx",
		ThreeDSURL: "https://testecomm.sella.it/pagam/pagam3d.aspx",
		IframeJS:   "https://testecomm.sella.it/Pagam/JavaScript/js_GestPay.js",
	}
	productionEndpoints = Endpoints{
		CryptURL:   "https://ecomms2s.sella.it/gestpay/gestpayws/WSCryptDecrypt.asmx",
		PaymentURL: "https://ecomm.sella.it/gestpay/pagam.asp",
		S2SURL:     "https://ecomms2s.sella.it/gestpay/GestPayWS/WsS2S.asmx",
		ThreeDSURL: "https://ecomm.sella.it/pagam/pagam3d.aspx",
		IframeJS:   "https://ecomm.sella.it/Pagam/JavaScript/js_GestPay.js",
	}
)

// Config is the merchant configuration, built once per process and passed
// explicitly to every component.
type Config struct {
	HTTPAddr string

	ShopLogin string
	Account   Account
	Sandbox   bool

	// ForceRecrypt enables the bounded re-encryption loop for ciphertexts
	// carrying the gateway's invalid-marker character.
	ForceRecrypt bool

	// Optional outbound parameters.
	SendBuyerEmail   bool
	SendBuyerName    bool
	SendLanguage     bool
	SendPaymentTypes bool
	CustomInfo       string
	LanguageID       string
	PaymentType      string

	// Tokenization.
	SaveTokens bool
	Use3DS     bool
	RequireCVV bool

	// CallbackURL is this service's own callback endpoint, handed to the
	// gateway as the server-to-server return landing.
	CallbackURL string

	// OrderReceivedURL is where the buyer's browser lands after the
	// callback has been reconciled.
	OrderReceivedURL string

	// CONSEL sub-gateway convention, applied by the payment-type
	// extension when the CONSEL payment type is selected.
	ConselMerchantID  string
	ConselMerchantPro string
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:         "localhost:8080",
		Sandbox:          true,
		PaymentType:      "CREDITCARD",
		LanguageID:       "1",
		OrderReceivedURL: "/order-received",
	}
}

// Endpoints returns the URL set for the configured environment.
func (c *Config) Endpoints() Endpoints {
	if c.Sandbox {
		return sandboxEndpoints
	}
	return productionEndpoints
}

func (c *Config) IsS2S() bool    { return c.Account == AccountTokenS2S }
func (c *Config) IsIframe() bool { return c.Account == AccountTokenIframe }

// Tokenized reports whether this account variant works with card tokens.
func (c *Config) Tokenized() bool { return c.IsS2S() || c.IsIframe() }

// Validate reports configuration errors. A failing configuration disables
// the gateway at load time rather than failing per-transaction.
func (c *Config) Validate() error {
	if c.ShopLogin == "" {
		return fmt.Errorf("shop login is required")
	}
	if c.Account < AccountStarter || c.Account > AccountTokenIframe {
		return fmt.Errorf("unknown account type %d", c.Account)
	}
	if c.Tokenized() && c.CallbackURL == "" {
		return fmt.Errorf("callback URL is required for tokenized accounts")
	}
	return nil
}

// ConfigFromEnv builds the configuration from the environment, on top of
// the defaults.
func ConfigFromEnv() (*Config, error) {
	c := DefaultConfig()

	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.ShopLogin = getenv("GESTPAY_SHOP_LOGIN", "")
	c.Sandbox = getenv("GESTPAY_SANDBOX", "true") == "true"
	c.ForceRecrypt = getenv("GESTPAY_FORCE_RECRYPT", "false") == "true"

	switch getenv("GESTPAY_ACCOUNT", "starter") {
	case "starter":
		c.Account = AccountStarter
	case "professional":
		c.Account = AccountProfessional
	case "s2s":
		c.Account = AccountTokenS2S
	case "iframe":
		c.Account = AccountTokenIframe
	default:
		return nil, fmt.Errorf("unsupported GESTPAY_ACCOUNT=%s", os.Getenv("GESTPAY_ACCOUNT"))
	}

	c.SendBuyerEmail = getenv("GESTPAY_SEND_BUYER_EMAIL", "false") == "true"
	c.SendBuyerName = getenv("GESTPAY_SEND_BUYER_NAME", "false") == "true"
	c.SendLanguage = getenv("GESTPAY_SEND_LANGUAGE", "false") == "true"
	c.SendPaymentTypes = getenv("GESTPAY_SEND_PAYMENT_TYPES", "false") == "true"
	c.CustomInfo = getenv("GESTPAY_CUSTOM_INFO", "")
	c.SaveTokens = getenv("GESTPAY_SAVE_TOKENS", "false") == "true"
	c.Use3DS = getenv("GESTPAY_USE_3DS", "false") == "true"
	c.RequireCVV = getenv("GESTPAY_REQUIRE_CVV", "false") == "true"
	c.CallbackURL = getenv("GESTPAY_CALLBACK_URL", "")
	c.OrderReceivedURL = getenv("GESTPAY_ORDER_RECEIVED_URL", c.OrderReceivedURL)
	c.ConselMerchantID = getenv("GESTPAY_CONSEL_MERCHANT_ID", "")
	c.ConselMerchantPro = getenv("GESTPAY_CONSEL_MERCHANT_PRO", "")

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("gateway disabled: %w", err)
	}

	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
