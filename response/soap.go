package response

import (
	"encoding/xml"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	soap11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
	soap12Namespace = "http://www.w3.org/2003/05/soap-envelope"
)

type soap11Envelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	NS      string     `xml:"xmlns:soapenv,attr"`
	Body    soap11Body `xml:"soapenv:Body"`
}

type soap11Body struct {
	Fault soap11Fault `xml:"soapenv:Fault"`
}

type soap11Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

type soap12Envelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	NS      string     `xml:"xmlns:soapenv,attr"`
	Body    soap12Body `xml:"soapenv:Body"`
}

type soap12Body struct {
	Fault soap12Fault `xml:"soapenv:Fault"`
}

type soap12Fault struct {
	Code   soap12Code `xml:"soapenv:Code"`
	Reason soap12Text `xml:"soapenv:Reason"`
	Detail string     `xml:"soapenv:Detail"`
}

type soap12Code struct {
	Value string `xml:"soapenv:Value"`
}

type soap12Text struct {
	Text string `xml:"soapenv:Text"`
}

func renderSOAP11(e Error) []byte {
	env := soap11Envelope{
		NS: soap11Namespace,
		Body: soap11Body{
			Fault: soap11Fault{
				Code:   fmt.Sprintf("soapenv:Client.%d", e.Code),
				String: e.Message,
				Detail: e.Description,
			},
		},
	}
	return marshalEnvelope(env)
}

func renderSOAP12(e Error) []byte {
	env := soap12Envelope{
		NS: soap12Namespace,
		Body: soap12Body{
			Fault: soap12Fault{
				Code:   soap12Code{Value: fmt.Sprintf("soapenv:Sender.%d", e.Code)},
				Reason: soap12Text{Text: e.Message},
				Detail: e.Description,
			},
		},
	}
	return marshalEnvelope(env)
}

func marshalEnvelope(env interface{}) []byte {
	b, err := xml.Marshal(env)
	if err != nil {
		log.Errorf("marshal soap fault: %v", err)
		return nil
	}
	return append([]byte(xml.Header), b...)
}
