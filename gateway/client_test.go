package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/corepay/gestpay/gateway"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func soapResult(op, inner string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <%[1]sResponse xmlns="https://ecomm.sella.it/gestpay/">
      <%[1]sResult><GestPayCryptDecrypt xmlns="">%[2]s</GestPayCryptDecrypt></%[1]sResult>
    </%[1]sResponse>
  </soap:Body>
</soap:Envelope>`, op, inner)
}

func TestEncrypt(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		require.Equal(t, "https://ecomm.sella.it/gestpay/Encrypt", r.Header.Get("SOAPAction"))

		fmt.Fprint(w, soapResult("Encrypt",
			`<TransactionType>ENCRYPT</TransactionType>
			 <TransactionResult>OK</TransactionResult>
			 <CryptDecryptString>XYZ123</CryptDecryptString>
			 <ErrorCode>0</ErrorCode>`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, nil, testLogger())

	crypted, err := client.Encrypt(context.Background(), &gateway.Request{
		ShopLogin:         "SHOP1",
		UICCode:           "242",
		Amount:            "49.90",
		ShopTransactionID: "1001",
		PaymentType:       "CREDITCARD",
		Extra:             []gateway.Field{{Name: "IdMerchant", Value: "77"}},
	})
	require.NoError(t, err)
	require.Equal(t, "XYZ123", crypted)

	// Fields must reach the wire in builder order, extensions last.
	require.Contains(t, gotBody, "<shopLogin>SHOP1</shopLogin>")
	require.Contains(t, gotBody, "<amount>49.90</amount>")
	require.Contains(t, gotBody, "<paymentTypes><paymentType>CREDITCARD</paymentType></paymentTypes>")
	require.Less(t, strings.Index(gotBody, "<shopTransactionId>"), strings.Index(gotBody, "<IdMerchant>"))
}

func TestEncryptRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapResult("Encrypt",
			`<TransactionResult>KO</TransactionResult>
			 <ErrorCode>1108</ErrorCode>
			 <ErrorDescription>shop not operative</ErrorDescription>`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, nil, testLogger())

	_, err := client.Encrypt(context.Background(), &gateway.Request{ShopLogin: "SHOP1"})

	var rejected *gateway.EncryptionRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "1108", rejected.Code)
	require.Equal(t, "shop not operative", rejected.Description)
}

func TestEncryptTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	client := gateway.NewClient(srv.URL, nil, testLogger())

	_, err := client.Encrypt(context.Background(), &gateway.Request{ShopLogin: "SHOP1"})

	var transport *gateway.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestEncryptSOAPFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault><faultcode>soap:Server</faultcode><faultstring>boom</faultstring></soap:Fault>
  </soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, nil, testLogger())

	_, err := client.Encrypt(context.Background(), &gateway.Request{ShopLogin: "SHOP1"})

	var transport *gateway.TransportError
	require.ErrorAs(t, err, &transport)
	require.Contains(t, transport.Error(), "boom")
}

func TestDecrypt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapResult("Decrypt",
			`<TransactionType>DECRYPT</TransactionType>
			 <TransactionResult>OK</TransactionResult>
			 <ShopTransactionID>1001</ShopTransactionID>
			 <BankTransactionID>BTID1</BankTransactionID>
			 <AuthorizationCode>910753</AuthorizationCode>
			 <TOKEN>TK-42</TOKEN>
			 <TokenExpiryMonth>05</TokenExpiryMonth>
			 <TokenExpiryYear>2028</TokenExpiryYear>`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, nil, testLogger())

	resp, err := client.Decrypt(context.Background(), "SHOP1", "XYZ123")
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, "BTID1", resp.BankTransactionID)
	require.Equal(t, "910753", resp.AuthorizationCode)
	require.Equal(t, "TK-42", resp.Token)

	id, err := resp.OrderID()
	require.NoError(t, err)
	require.EqualValues(t, 1001, id)
}

func TestDecryptKOIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapResult("Decrypt",
			`<TransactionResult>KO</TransactionResult>
			 <ShopTransactionID>1001</ShopTransactionID>
			 <ErrorCode>74</ErrorCode>
			 <ErrorDescription>transaction declined</ErrorDescription>`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, nil, testLogger())

	resp, err := client.Decrypt(context.Background(), "SHOP1", "XYZ123")
	require.NoError(t, err)
	require.False(t, resp.OK())
	require.Equal(t, "(74) transaction declined", resp.ErrorText())
}

func TestOrderIDRejectsNonNumericReference(t *testing.T) {
	for _, ref := range []string{"", "abc", "12abc", "0", "-3"} {
		resp := &gateway.Response{ShopTransactionID: ref}

		_, err := resp.OrderID()

		var malformed *gateway.MalformedResponse
		require.True(t, errors.As(err, &malformed), "reference %q", ref)
	}
}

func TestS2SAuthorizeEnrolled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body := string(b)
		require.Contains(t, body, "<cardNumber>4012001037141112</cardNumber>")
		require.NotContains(t, body, "tokenValue")

		fmt.Fprint(w, soapResult("callPagamS2S",
			`<TransactionResult>KO</TransactionResult>
			 <ErrorCode>8006</ErrorCode>
			 <ErrorDescription>Verify by visa</ErrorDescription>
			 <TransactionKey>TRK99</TransactionKey>
			 <VbVRisp>BLOB</VbVRisp>`))
	}))
	defer srv.Close()

	client := gateway.NewS2SClient(srv.URL, nil, testLogger())

	resp, err := client.Authorize(context.Background(), &gateway.S2SAuth{
		ShopLogin:         "SHOP1",
		UICCode:           "242",
		Amount:            "49.90",
		ShopTransactionID: "1001",
		Card: &gateway.CardData{
			Number:      "4012001037141112",
			ExpiryMonth: "05",
			ExpiryYear:  "28",
			CVV:         "123",
		},
	})
	require.NoError(t, err)
	require.True(t, resp.Enrolled())
	require.Equal(t, "TRK99", resp.TransactionKey)
	require.Equal(t, "BLOB", resp.StepUpBlob())
}

func TestS2SSettle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		require.Contains(t, string(b), "<bankTransactionId>BTID1</bankTransactionId>")
		require.Equal(t, "https://ecomm.sella.it/gestpay/callSettleS2S", r.Header.Get("SOAPAction"))

		fmt.Fprint(w, soapResult("callSettleS2S",
			`<TransactionResult>OK</TransactionResult>
			 <BankTransactionID>BTID1</BankTransactionID>`))
	}))
	defer srv.Close()

	client := gateway.NewS2SClient(srv.URL, nil, testLogger())

	resp, err := client.Settle(context.Background(), "SHOP1", "242", "49.90", "1001", "BTID1")
	require.NoError(t, err)
	require.True(t, resp.OK())
}
