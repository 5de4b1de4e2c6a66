package gateway

// Request is the outbound transaction request assembled by the parameter
// builder for the hosted encrypt/redirect flows.
type Request struct {
	ShopLogin         string
	UICCode           string
	Amount            string
	ShopTransactionID string

	// Optional fields, included only when the corresponding merchant
	// configuration flag is enabled.
	PaymentType string
	BuyerEmail  string
	BuyerName   string
	LanguageID  string
	CustomInfo  string

	// RequestToken asks the gateway to issue a card token alongside the
	// payment ("MASKEDPAN" requests the masked PAN variant).
	RequestToken string

	// Extra holds fields appended by payment-type extensions. They are
	// always emitted last, in registration order.
	Extra []Field
}

// Fields renders the request as ordered gateway call fields. Empty optional
// fields are omitted; extension fields come last.
func (r *Request) Fields() []Field {
	fields := []Field{
		{Name: "shopLogin", Value: r.ShopLogin},
		{Name: "uicCode", Value: r.UICCode},
		{Name: "amount", Value: r.Amount},
		{Name: "shopTransactionId", Value: r.ShopTransactionID},
	}

	if r.PaymentType != "" {
		fields = append(fields, Field{
			Name:     "paymentTypes",
			Children: []Field{{Name: "paymentType", Value: r.PaymentType}},
		})
	}
	for _, opt := range []Field{
		{Name: "buyerEmail", Value: r.BuyerEmail},
		{Name: "buyerName", Value: r.BuyerName},
		{Name: "languageId", Value: r.LanguageID},
		{Name: "customInfo", Value: r.CustomInfo},
		{Name: "requestToken", Value: r.RequestToken},
	} {
		if opt.Value != "" {
			fields = append(fields, opt)
		}
	}

	return append(fields, r.Extra...)
}
