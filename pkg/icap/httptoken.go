package icap

import "golang.org/x/net/http/httpguts"

// validHeaderName and validHeaderValue delegate to httpguts rather
// than hand-rolling an RFC 7230 token table: the embedded HTTP
// request/response headers carried inside an ICAP message are
// ordinary HTTP header fields, and httpguts already encodes the exact
// grammar (token characters for names, field-content minus control
// characters for values) that a conforming parser needs.
func validHeaderName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

func validHeaderValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}
