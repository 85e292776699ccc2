package edfaliclient

import (
	"encoding/xml"
	"fmt"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	xsiNS          = "http://www.w3.org/2001/XMLSchema-instance"
	xsdNS          = "http://www.w3.org/2001/XMLSchema"
)

// requestEnvelope is the SOAP 1.1 wrapper expected by the ASMX endpoint. The
// prefixed names are written literally; encoding/xml escapes every character
// data value, so caller-supplied strings cannot break out of their element.
type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	XSI     string      `xml:"xmlns:xsi,attr"`
	XSD     string      `xml:"xmlns:xsd,attr"`
	SOAP    string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Content interface{}
}

// doPTransRequest opens a payment session. Cmobile is the paying party.
type doPTransRequest struct {
	XMLName xml.Name `xml:"http://tempuri.org/ DoPTrans"`
	Mobile  string   `xml:"Mobile"`
	Pin     string   `xml:"Pin"`
	Cmobile string   `xml:"Cmobile"`
	Amount  string   `xml:"Amount"`
	PW      string   `xml:"PW"`
}

// onlineConfTransRequest confirms a session with the OTP sent to the payer.
type onlineConfTransRequest struct {
	XMLName   xml.Name `xml:"http://tempuri.org/ OnlineConfTrans"`
	Mobile    string   `xml:"Mobile"`
	Pin       string   `xml:"Pin"`
	SessionID string   `xml:"sessionID"`
	PW        string   `xml:"PW"`
}

func marshalEnvelope(content interface{}) ([]byte, error) {
	env := requestEnvelope{
		XSI:  xsiNS,
		XSD:  xsdNS,
		SOAP: soapEnvelopeNS,
		Body: requestBody{Content: content},
	}
	body, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal soap envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

type responseEnvelope struct {
	XMLName xml.Name     `xml:"Envelope"`
	Body    responseBody `xml:"Body"`
}

type responseBody struct {
	Fault           *soapFault               `xml:"Fault"`
	DoPTrans        *doPTransResponse        `xml:"DoPTransResponse"`
	OnlineConfTrans *onlineConfTransResponse `xml:"OnlineConfTransResponse"`
}

type doPTransResponse struct {
	Result *string `xml:"DoPTransResult"`
}

type onlineConfTransResponse struct {
	Result *string `xml:"OnlineConfTransResult"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func parseEnvelope(raw []byte) (*responseEnvelope, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// result extracts the single result string for the given action. The boolean
// is false when the response element or its result child is absent.
func (e *responseEnvelope) result(action string) (string, bool) {
	switch action {
	case ActionInitiate:
		if e.Body.DoPTrans == nil || e.Body.DoPTrans.Result == nil {
			return "", false
		}
		return *e.Body.DoPTrans.Result, true
	case ActionConfirm:
		if e.Body.OnlineConfTrans == nil || e.Body.OnlineConfTrans.Result == nil {
			return "", false
		}
		return *e.Body.OnlineConfTrans.Result, true
	default:
		return "", false
	}
}
