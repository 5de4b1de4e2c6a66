package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/exp/slog"
)

// Client calls the gateway's remote Encrypt/Decrypt procedures over
// SOAP/HTTPS. It carries no timeout of its own; supply one on the injected
// http.Client.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(url string, hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		url:    strings.TrimSpace(url),
		http:   hc,
		logger: logger.With(slog.String("component", "crypt_client")),
	}
}

// Encrypt asks the gateway to encrypt the transaction request, returning
// the opaque ciphertext used on the hosted payment page. A business
// rejection surfaces as EncryptionRejected.
func (c *Client) Encrypt(ctx context.Context, req *Request) (string, error) {
	resp, err := c.call(ctx, "Encrypt", req.Fields())
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", &EncryptionRejected{Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	return resp.CryptDecryptString, nil
}

// Decrypt resolves a callback ciphertext into the gateway's transaction
// result. A KO outcome is not an error: it is a normal business result
// carried in the response.
func (c *Client) Decrypt(ctx context.Context, shopLogin, cryptedString string) (*Response, error) {
	return c.call(ctx, "Decrypt", []Field{
		{Name: "shopLogin", Value: shopLogin},
		{Name: "CryptedString", Value: cryptedString},
	})
}

func (c *Client) call(ctx context.Context, op string, fields []Field) (*Response, error) {
	body, err := envelope(op, fields)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("building envelope: %w", err)}
	}

	// Audit trail: every outbound call and its raw response are logged.
	// Logging never aborts the call.
	c.logger.Info("gateway call",
		slog.String("op", op),
		slog.String("url", c.url),
		slog.String("params", flattenFields(fields)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", gatewayNS+op)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	c.logger.Info("gateway response",
		slog.String("op", op),
		slog.Int("status", httpResp.StatusCode),
		slog.String("body", string(raw)),
	)

	if httpResp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}

	payload, err := unwrap(op, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	return parseResponse(op, payload)
}

// flattenFields renders fields for the audit log, masking values the log
// must not carry in clear.
func flattenFields(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		if len(f.Children) > 0 {
			b.WriteString(f.Name + "=[" + flattenFields(f.Children) + "]")
			continue
		}
		b.WriteString(f.Name + "=" + maskField(f.Name, f.Value))
	}
	return b.String()
}

func maskField(name, value string) string {
	switch name {
	case "cardNumber":
		if len(value) > 4 {
			return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
		}
		return "****"
	case "cvv":
		return "***"
	}
	return value
}
