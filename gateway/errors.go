package gateway

import "fmt"

// TransportError wraps a network or protocol failure while talking to the
// gateway. Callers must abort processing without mutating the order; the
// gateway will redeliver its callback.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncryptionRejected is returned when the gateway refuses to encrypt an
// outbound request. It is a business rejection, surfaced to the operator.
type EncryptionRejected struct {
	Code        string
	Description string
}

func (e *EncryptionRejected) Error() string {
	return fmt.Sprintf("encrypt rejected by gateway: (%s) %s", e.Code, e.Description)
}

// MalformedResponse is returned when a gateway payload cannot be parsed or
// is missing required data, such as a numeric order reference.
type MalformedResponse struct {
	Op     string
	Reason string
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("malformed gateway response on %s: %s", e.Op, e.Reason)
}
