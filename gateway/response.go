package gateway

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Transaction outcomes reported by the gateway.
const (
	ResultOK = "OK"
	ResultKO = "KO"
)

// ErrorCodeEnrolled is reported on a tokenized authorization when the card
// is enrolled in 3-D Secure and the cardholder must complete a step-up
// authentication before the transaction can proceed.
const ErrorCodeEnrolled = "8006"

// Response is a decrypted (or S2S) gateway result.
type Response struct {
	XMLName xml.Name

	TransactionType    string `xml:"TransactionType"`
	TransactionResult  string `xml:"TransactionResult"`
	CryptDecryptString string `xml:"CryptDecryptString"`
	ShopTransactionID  string `xml:"ShopTransactionID"`
	BankTransactionID  string `xml:"BankTransactionID"`
	AuthorizationCode  string `xml:"AuthorizationCode"`
	Currency           string `xml:"Currency"`
	Amount             string `xml:"Amount"`
	ErrorCode          string `xml:"ErrorCode"`
	ErrorDescription   string `xml:"ErrorDescription"`

	Token            string `xml:"TOKEN"`
	TokenExpiryMonth string `xml:"TokenExpiryMonth"`
	TokenExpiryYear  string `xml:"TokenExpiryYear"`

	// 3-D Secure step-up continuation data.
	TransactionKey string `xml:"TransactionKey"`
	VbVRisp        string `xml:"VbVRisp"`
	VbV            struct {
		Enrolled string `xml:"EnrolledInd"`
		Risp     string `xml:"VbVRisp"`
	} `xml:"VbV"`
}

func parseResponse(op string, raw []byte) (*Response, error) {
	var r Response
	if err := xml.Unmarshal(raw, &r); err != nil {
		return nil, &MalformedResponse{Op: op, Reason: err.Error()}
	}
	return &r, nil
}

// OK reports whether the gateway accepted the transaction.
func (r *Response) OK() bool { return r.TransactionResult == ResultOK }

// Enrolled reports whether the response demands a 3-D Secure step-up.
func (r *Response) Enrolled() bool { return r.ErrorCode == ErrorCodeEnrolled }

// StepUpBlob returns the opaque 3-D Secure redirect payload, wherever the
// gateway placed it.
func (r *Response) StepUpBlob() string {
	if r.VbVRisp != "" {
		return r.VbVRisp
	}
	return r.VbV.Risp
}

// OrderID returns the numeric order reference carried by the response. A
// missing or non-numeric reference yields a MalformedResponse: such
// callbacks must never reach an order.
func (r *Response) OrderID() (int64, error) {
	raw := strings.TrimSpace(r.ShopTransactionID)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &MalformedResponse{Op: "decrypt", Reason: "non-numeric order reference " + strconv.Quote(raw)}
	}
	return id, nil
}

// ErrorText renders the gateway error pair as "(code) description".
func (r *Response) ErrorText() string {
	return "(" + r.ErrorCode + ") " + r.ErrorDescription
}
