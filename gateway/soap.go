package gateway

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	gatewayNS = "https://ecomm.sella.it/gestpay/"
)

// Field is one element of a gateway call body. Children, when set, are
// emitted as nested elements (the gateway nests e.g. paymentType under
// paymentTypes).
type Field struct {
	Name     string
	Value    string
	Children []Field
}

// envelope renders a SOAP 1.1 request envelope for the given action.
func envelope(action string, fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)

	env := xml.StartElement{
		Name: xml.Name{Local: "soap:Envelope"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns:soap"}, Value: soapNS}},
	}
	body := xml.StartElement{Name: xml.Name{Local: "soap:Body"}}
	op := xml.StartElement{
		Name: xml.Name{Local: action},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: gatewayNS}},
	}

	if err := enc.EncodeToken(env); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(body); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(op); err != nil {
		return nil, err
	}
	if err := encodeFields(enc, fields); err != nil {
		return nil, err
	}
	for _, el := range []xml.StartElement{op, body, env} {
		if err := enc.EncodeToken(el.End()); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeFields(enc *xml.Encoder, fields []Field) error {
	for _, f := range fields {
		start := xml.StartElement{Name: xml.Name{Local: f.Name}}
		if len(f.Children) > 0 {
			if err := enc.EncodeToken(start); err != nil {
				return err
			}
			if err := encodeFields(enc, f.Children); err != nil {
				return err
			}
			if err := enc.EncodeToken(start.End()); err != nil {
				return err
			}
			continue
		}
		if err := enc.EncodeElement(f.Value, start); err != nil {
			return err
		}
	}
	return nil
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// unwrap extracts the raw payload nested in <{action}Result> from a SOAP
// response body, or surfaces a SOAP fault.
func unwrap(op string, body io.Reader) ([]byte, error) {
	dec := xml.NewDecoder(body)
	resultName := op + "Result"

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, &MalformedResponse{Op: op, Reason: fmt.Sprintf("missing %s element", resultName)}
		}
		if err != nil {
			return nil, &MalformedResponse{Op: op, Reason: err.Error()}
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Fault":
			var f soapFault
			if err := dec.DecodeElement(&f, &start); err != nil {
				return nil, &MalformedResponse{Op: op, Reason: "unreadable SOAP fault"}
			}
			return nil, &TransportError{Op: op, Err: fmt.Errorf("soap fault %s: %s", f.Code, f.String)}
		case resultName:
			var payload struct {
				Inner string `xml:",innerxml"`
			}
			if err := dec.DecodeElement(&payload, &start); err != nil {
				return nil, &MalformedResponse{Op: op, Reason: err.Error()}
			}
			inner := strings.TrimSpace(payload.Inner)
			if inner == "" {
				return nil, &MalformedResponse{Op: op, Reason: "empty result payload"}
			}
			return []byte(inner), nil
		}
	}
}
