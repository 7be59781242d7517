// Package response renders denial bodies. JSON is the default, SOAP 1.1
// and 1.2 faults are produced for SOAP callers when enabled.
package response

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Format selects the denial body representation.
type Format int

const (
	FormatJSON Format = iota
	FormatSOAP11
	FormatSOAP12
)

// Content types involved in format negotiation.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeSOAP11 = "text/xml"
	ContentTypeSOAP12 = "application/soap+xml"
)

// Error is the denial payload before rendering.
type Error struct {
	Code        int
	Message     string
	Description string
}

type jsonError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Negotiate picks the denial format from the request. A SOAP 1.1 caller
// is recognized by a text/xml body with a soapaction header, a SOAP 1.2
// caller by an application/soap+xml body. Everything else gets JSON.
// When soapEnabled is false the answer is always JSON.
func Negotiate(contentType, soapAction string, soapEnabled bool) Format {
	if !soapEnabled {
		return FormatJSON
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == ContentTypeSOAP11 && soapAction != "":
		return FormatSOAP11
	case ct == ContentTypeSOAP12:
		return FormatSOAP12
	}
	return FormatJSON
}

// Render produces the denial body and its content type.
func Render(e Error, format Format) ([]byte, string) {
	switch format {
	case FormatSOAP11:
		return renderSOAP11(e), ContentTypeSOAP11
	case FormatSOAP12:
		return renderSOAP12(e), ContentTypeSOAP12
	}
	b, err := json.Marshal(jsonError{e.Code, e.Message, e.Description})
	if err != nil {
		log.Errorf("marshal denial body: %v", err)
		b = []byte(`{"code":900900,"message":"Internal Server Error"}`)
	}
	return b, ContentTypeJSON
}
