package icap

// HTTPHead is an embedded HTTP request or response head carried inside
// an ICAP message's Encapsulated sections: a start line split into its
// three wire tokens, plus its own ordered header multimap.
type HTTPHead struct {
	FirstToken  string // method (request) or protocol version (response)
	SecondToken string // URI (request) or status code (response)
	ThirdToken  string // protocol version (request) or reason phrase (response)
	headers     headers
}

func (h *HTTPHead) addHeader(name, value string) {
	h.headers.add(name, value)
}

// Headers returns the embedded head's headers in arrival order.
func (h *HTTPHead) Headers() []HeaderField {
	return exportFields(h.headers.list())
}

// GetHeader returns the first value recorded for name.
func (h *HTTPHead) GetHeader(name string) (string, bool) {
	return h.headers.get(name)
}

// HeaderField is the exported, read-only view of one header entry.
type HeaderField struct {
	Name  string
	Value string
}

func exportFields(in []headerField) []HeaderField {
	out := make([]HeaderField, len(in))
	for i, f := range in {
		out[i] = HeaderField{Name: f.name, Value: f.value}
	}
	return out
}

// IcapMessage is the mutable builder the decoder populates over the
// lifetime of one message. The caller constructs it via a
// MessageFactory when the decoder validates the initial line, then
// surrenders ownership of it back to the caller on the terminal
// MessageHead/EndOfMessage emissions.
type IcapMessage struct {
	Method  string
	URI     string
	Version string

	headers      headers
	encapsulated Encapsulated
	hasEncap     bool

	Request  *HTTPHead
	Response *HTTPHead
}

// NewIcapMessage constructs a message from the three initial-line
// tokens. It is the default MessageFactory; callers needing
// application-specific validation can supply their own factory
// instead and reject by returning a non-nil error.
func NewIcapMessage(method, uri, version string) (*IcapMessage, error) {
	return &IcapMessage{Method: method, URI: uri, Version: version}, nil
}

func (m *IcapMessage) clearHeaders() {
	m.headers.clear()
}

func (m *IcapMessage) addHeader(name, value string) {
	m.headers.add(name, value)
}

// ContainsHeader reports whether an ICAP header named name was seen,
// case-insensitively.
func (m *IcapMessage) ContainsHeader(name string) bool {
	return m.headers.contains(name)
}

// GetHeader returns the first ICAP header value recorded for name.
func (m *IcapMessage) GetHeader(name string) (string, bool) {
	return m.headers.get(name)
}

// GetHeaderValues returns every ICAP header value recorded for name,
// in insertion order.
func (m *IcapMessage) GetHeaderValues(name string) []string {
	return m.headers.getAll(name)
}

// Headers returns the ICAP headers in arrival order.
func (m *IcapMessage) Headers() []HeaderField {
	return exportFields(m.headers.list())
}

// GetMethod returns the method token from the initial line.
func (m *IcapMessage) GetMethod() string {
	return m.Method
}

func (m *IcapMessage) setEncapsulatedHeader(enc Encapsulated) {
	m.encapsulated = enc
	m.hasEncap = true
}

// GetEncapsulatedHeader returns the parsed Encapsulated descriptor and
// whether one has been attached yet.
func (m *IcapMessage) GetEncapsulatedHeader() (Encapsulated, bool) {
	return m.encapsulated, m.hasEncap
}

// MessageFactory builds the message the decoder will populate once
// the initial line has been split into its three tokens. Returning a
// non-nil error rejects the message as if the initial line were
// malformed (InvalidInitialLine).
type MessageFactory func(firstToken, secondToken, thirdToken string) (*IcapMessage, error)

// DefaultMessageFactory builds a plain *IcapMessage with no extra
// validation.
func DefaultMessageFactory(firstToken, secondToken, thirdToken string) (*IcapMessage, error) {
	return NewIcapMessage(firstToken, secondToken, thirdToken)
}
