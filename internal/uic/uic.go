package uic

// The gateway identifies currencies by numeric UIC codes rather than ISO
// alpha codes.
var codes = map[string]string{
	"EUR": "242",
	"USD": "1",
	"GBP": "2",
	"CHF": "3",
	"DKK": "7",
	"SEK": "8",
	"NOK": "9",
	"CAD": "12",
	"JPY": "71",
	"HKD": "103",
	"AUD": "109",
	"SGD": "124",
}

// DefaultCode is used when the shop currency is not supported by the
// gateway; the gateway itself settles such shops in euro.
const DefaultCode = "242"

// Code returns the gateway UIC code for an ISO 4217 alpha code, falling
// back to DefaultCode for unsupported currencies.
func Code(currency string) string {
	if c, ok := codes[currency]; ok {
		return c
	}
	return DefaultCode
}

// Supported reports whether the currency has a dedicated UIC code.
func Supported(currency string) bool {
	_, ok := codes[currency]
	return ok
}
