// Package snapshot encodes a completed icap.IcapMessage into a
// deterministic byte form suitable for golden test fixtures or for
// handing a decoded message across a process boundary.
package snapshot

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/icapstream/icapd/pkg/icap"
)

// encMode is configured with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer widths, no indefinite
// length items. The same message always produces the same bytes,
// which is what makes this usable for golden-file comparisons.
var encMode cbor.EncMode

// decMode accepts standard CBOR and decodes any-typed values into
// map[string]any rather than CBOR's default map[interface{}]interface{}.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Header is the wire-independent form of one icap.HeaderField.
type Header struct {
	Name  string `cbor:"name"`
	Value string `cbor:"value"`
}

// HTTPHead is the snapshot form of an embedded HTTP request or
// response head.
type HTTPHead struct {
	FirstToken  string   `cbor:"first"`
	SecondToken string   `cbor:"second"`
	ThirdToken  string   `cbor:"third"`
	Headers     []Header `cbor:"headers,omitempty"`
}

// Section is the snapshot form of one Encapsulated descriptor entry.
type Section struct {
	Kind   string `cbor:"kind"`
	Offset int    `cbor:"offset"`
}

// Message is the deterministic, struct-tagged mirror of
// icap.IcapMessage that actually gets CBOR-encoded. IcapMessage itself
// carries unexported state, so snapshots go through this type instead
// of encoding it directly.
type Message struct {
	Method   string    `cbor:"method"`
	URI      string    `cbor:"uri"`
	Version  string    `cbor:"version"`
	Headers  []Header  `cbor:"headers,omitempty"`
	Sections []Section `cbor:"sections,omitempty"`
	Request  *HTTPHead `cbor:"request,omitempty"`
	Response *HTTPHead `cbor:"response,omitempty"`
}

// FromMessage converts a decoded message into its snapshot form.
func FromMessage(m *icap.IcapMessage) Message {
	out := Message{
		Method:  m.GetMethod(),
		URI:     m.URI,
		Version: m.Version,
		Headers: convertHeaders(m.Headers()),
	}
	if enc, ok := m.GetEncapsulatedHeader(); ok {
		out.Sections = make([]Section, len(enc.Sections))
		for i, s := range enc.Sections {
			out.Sections[i] = Section{Kind: s.Kind.String(), Offset: s.Offset}
		}
	}
	out.Request = convertHead(m.Request)
	out.Response = convertHead(m.Response)
	return out
}

func convertHead(h *icap.HTTPHead) *HTTPHead {
	if h == nil {
		return nil
	}
	return &HTTPHead{
		FirstToken:  h.FirstToken,
		SecondToken: h.SecondToken,
		ThirdToken:  h.ThirdToken,
		Headers:     convertHeaders(h.Headers()),
	}
}

func convertHeaders(in []icap.HeaderField) []Header {
	if len(in) == 0 {
		return nil
	}
	out := make([]Header, len(in))
	for i, f := range in {
		out[i] = Header{Name: f.Name, Value: f.Value}
	}
	return out
}

// Marshal encodes a decoded message using Core Deterministic Encoding.
func Marshal(m *icap.IcapMessage) ([]byte, error) {
	return encMode.Marshal(FromMessage(m))
}

// Unmarshal decodes a snapshot previously produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	var out Message
	err := decMode.Unmarshal(data, &out)
	return out, err
}
