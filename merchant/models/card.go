package models

// SavedCard is a customer-scoped gateway token. Only the token, the masked
// PAN and the expiry are kept; real card data never reaches storage.
type SavedCard struct {
	Token       string
	MaskedPAN   string
	ExpiryMonth int
	ExpiryYear  int
	Default     bool
}
