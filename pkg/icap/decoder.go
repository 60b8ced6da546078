package icap

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/icapstream/icapd/pkg/icap/bufpool"
)

type state int

const (
	stateSkipControlChars state = iota
	stateReadIcapInitial
	stateReadIcapHeader
	stateReadHttpRequestHeader
	stateReadHttpResponseHeader
	stateReadHttpBody
	stateAwaitContinuation
)

// Decoder is a resumable, single-threaded ICAP message decoder. One
// instance is owned by exactly one logical connection; it retains no
// reference into a buffer passed to Decode once that call returns.
type Decoder struct {
	cfg       Config
	isRequest bool
	factory   MessageFactory
	connID    string

	state   state
	message *IcapMessage

	headerBudget sizeDelimiter
	reqHdrDone   bool
	resHdrDone   bool

	previewActive    bool
	previewAnnounced int
	awaitingCont     bool

	// lastChunk is the pool-backed buffer behind the most recently
	// returned BodyChunk Result, if any. A caller may not retain Chunk
	// past its next Decode/Reset call; that call is exactly when the
	// buffer is recycled.
	lastChunk []byte

	pending  []Result
	fatalErr error
}

// NewDecoder constructs a Decoder with the given size budgets. isRequest
// only affects IsDecodingRequest; the wire grammar parsed is the same
// in both directions (ICAP has no separate response-only framing).
// factory may be nil, in which case DefaultMessageFactory is used.
func NewDecoder(cfg Config, isRequest bool, factory MessageFactory) (*Decoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = DefaultMessageFactory
	}
	return &Decoder{
		cfg:       cfg,
		isRequest: isRequest,
		factory:   factory,
		state:     stateSkipControlChars,
	}, nil
}

// IsDecodingRequest reports the direction fixed at construction.
func (d *Decoder) IsDecodingRequest() bool {
	return d.isRequest
}

// SetConnID attaches an opaque caller-chosen identifier to this
// Decoder, for log correlation only; the decoder never interprets it.
// The zero value (empty string) means no correlation id is set.
func (d *Decoder) SetConnID(id string) {
	d.connID = id
}

// ConnID returns the identifier set by SetConnID, or "" if none was set.
func (d *Decoder) ConnID() string {
	return d.connID
}

// Continue resumes chunk streaming after a non-terminal PreviewComplete,
// telling the decoder that the caller asked the peer for the remainder
// of the body.
func (d *Decoder) Continue() {
	if d.awaitingCont {
		d.awaitingCont = false
		d.state = stateReadHttpBody
	}
}

// Reset acknowledges a fatal error and returns the decoder to
// SkipControlChars so a new message can begin. Per spec.md §4.F,
// decode keeps surfacing the same error until this is called.
func (d *Decoder) Reset() {
	if d.lastChunk != nil {
		bufpool.Put(d.lastChunk)
		d.lastChunk = nil
	}
	d.state = stateSkipControlChars
	d.fatalErr = nil
	d.message = nil
	d.pending = nil
	d.reqHdrDone = false
	d.resHdrDone = false
	d.previewActive = false
	d.awaitingCont = false
}

// Decode consumes a prefix of buf and returns the next event along
// with how many bytes of buf it consumed. The caller is expected to
// drop the consumed prefix (e.g. buf = buf[n:]) before the next call;
// NeedMore never counts an incomplete unit toward its advance, so the
// same bytes are re-presented, typically with more appended.
func (d *Decoder) Decode(buf []byte) (Result, int) {
	if d.lastChunk != nil {
		bufpool.Put(d.lastChunk)
		d.lastChunk = nil
	}
	if len(d.pending) > 0 {
		r := d.pending[0]
		d.pending = d.pending[1:]
		return r, 0
	}
	if d.fatalErr != nil {
		return errorResult(d.fatalErr), 0
	}
	if d.awaitingCont {
		return needMoreResult(), 0
	}

	total := 0
	for {
		switch d.state {
		case stateSkipControlChars:
			adv, needMore := skipControlCharacters(buf[total:])
			total += adv
			if needMore {
				return needMoreResult(), total
			}
			d.state = stateReadIcapInitial

		case stateReadIcapInitial:
			line, adv, ok, err := readLine(buf[total:], d.cfg.MaxInitialLineLength)
			if err != nil {
				return d.fail(err), total
			}
			if !ok {
				return needMoreResult(), total
			}
			total += adv

			first, second, third, serr := splitInitialLine(line)
			if serr != nil {
				d.state = stateSkipControlChars
				continue
			}
			msg, cerr := d.factory(first, second, third)
			if cerr != nil {
				d.state = stateSkipControlChars
				continue
			}

			d.message = msg
			d.message.clearHeaders()
			d.headerBudget = newSizeDelimiter(d.cfg.MaxIcapHeaderSize)
			d.reqHdrDone = false
			d.resHdrDone = false
			d.state = stateReadIcapHeader

		case stateReadIcapHeader:
			adv, done, err := readHeaderBlock(buf[total:], &d.headerBudget, d.message.addHeader)
			total += adv
			if err != nil {
				return d.fail(err), total
			}
			if !done {
				return needMoreResult(), total
			}
			if err := d.finishIcapHeaders(); err != nil {
				return d.fail(err), total
			}
			if r, emitted := d.afterHeadsComplete(); emitted {
				return r, total
			}

		case stateReadHttpRequestHeader:
			adv, done, err := d.stepFixedHTTPSection(buf[total:], SectionReqHdr)
			total += adv
			if err != nil {
				return d.fail(err), total
			}
			if !done {
				return needMoreResult(), total
			}
			d.reqHdrDone = true
			if r, emitted := d.afterHeadsComplete(); emitted {
				return r, total
			}

		case stateReadHttpResponseHeader:
			adv, done, err := d.stepFixedHTTPSection(buf[total:], SectionResHdr)
			total += adv
			if err != nil {
				return d.fail(err), total
			}
			if !done {
				return needMoreResult(), total
			}
			d.resHdrDone = true
			if r, emitted := d.afterHeadsComplete(); emitted {
				return r, total
			}

		case stateReadHttpBody:
			adv, result, err := d.stepBodyChunk(buf[total:])
			total += adv
			if err != nil {
				return d.fail(err), total
			}
			return result, total

		default:
			return needMoreResult(), total
		}
	}
}

func (d *Decoder) fail(err error) Result {
	d.fatalErr = err
	return errorResult(err)
}

// finishIcapHeaders enforces the mandatory Host/Encapsulated headers
// and attaches the parsed Encapsulated descriptor to the message.
func (d *Decoder) finishIcapHeaders() error {
	if !d.message.ContainsHeader("Host") {
		return newDecodeError(KindMissingMandatoryHeader, "missing Host header")
	}
	encVals := d.message.GetHeaderValues("Encapsulated")
	if len(encVals) == 0 {
		return newDecodeError(KindMissingMandatoryHeader, "missing Encapsulated header")
	}
	if len(encVals) > 1 {
		return newDecodeError(KindInvalidEncapsulatedHeader, "duplicate Encapsulated header")
	}
	enc, err := parseEncapsulated(encVals[0], d.message.GetMethod())
	if err != nil {
		return err
	}
	d.message.setEncapsulatedHeader(enc)
	return nil
}

// decideNextState implements the shared tail of transitions 3, 4 and 5
// in spec.md §4.E: which head section (if any) remains to be read, or
// whether the body (or end of message) follows.
func (d *Decoder) decideNextState() state {
	enc, _ := d.message.GetEncapsulatedHeader()
	if !d.reqHdrDone && enc.Has(SectionReqHdr) {
		return stateReadHttpRequestHeader
	}
	if !d.resHdrDone && enc.Has(SectionResHdr) {
		return stateReadHttpResponseHeader
	}
	if bk, ok := enc.BodyKind(); ok && bk != SectionNullBody {
		return stateReadHttpBody
	}
	return stateSkipControlChars
}

// afterHeadsComplete is called every time a head section finishes
// parsing. If another head section remains, it sets the decoder state
// to read it and reports no emission. Otherwise all heads are now
// attached to the message, so it emits MessageHead exactly once and,
// when no body follows, queues EndOfMessage right behind it.
func (d *Decoder) afterHeadsComplete() (Result, bool) {
	next := d.decideNextState()
	if next == stateReadHttpRequestHeader || next == stateReadHttpResponseHeader {
		d.state = next
		return Result{}, false
	}

	msg := d.message
	if next == stateReadHttpBody {
		d.enterBody()
		d.state = stateReadHttpBody
		return messageHeadResult(msg), true
	}

	d.pending = append(d.pending, endOfMessageResult())
	d.state = stateSkipControlChars
	d.message = nil
	return messageHeadResult(msg), true
}

// enterBody reads the Preview header, if any, to decide whether the
// body stream is a truncated sample awaiting a continuation signal.
func (d *Decoder) enterBody() {
	d.previewActive = false
	d.previewAnnounced = 0
	if v, ok := d.message.GetHeader("Preview"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			d.previewActive = true
			d.previewAnnounced = n
		}
	}
}

// stepFixedHTTPSection reads the embedded HTTP request or response
// head, whose byte length is fixed by the Encapsulated descriptor
// (spec.md §4.E transitions 4-5).
func (d *Decoder) stepFixedHTTPSection(buf []byte, kind SectionKind) (advance int, done bool, err error) {
	enc, _ := d.message.GetEncapsulatedHeader()
	length, ok := enc.sectionLength(kind)
	if !ok {
		return 0, false, newDecodeError(KindInvalidEncapsulatedHeader, "section has no defined length")
	}
	if len(buf) < length {
		return 0, false, nil
	}
	head, herr := parseHTTPHead(buf[:length])
	if herr != nil {
		return 0, false, herr
	}
	if kind == SectionReqHdr {
		d.message.Request = head
	} else {
		d.message.Response = head
	}
	return length, true, nil
}

// parseHTTPHead parses a closed byte window as an HTTP start line
// followed by folded headers and a terminating blank line, rejecting
// any window that isn't exactly filled by that grammar.
func parseHTTPHead(window []byte) (*HTTPHead, error) {
	line, adv, ok, err := readLine(window, -1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newDecodeError(KindMalformedHeader, "embedded HTTP head missing start line")
	}
	first, second, third, serr := splitInitialLine(line)
	if serr != nil {
		return nil, wrapDecodeError(KindMalformedHeader, "malformed embedded HTTP start line", serr)
	}
	head := &HTTPHead{FirstToken: first, SecondToken: second, ThirdToken: third}

	rest := window[adv:]
	total, done, herr := readHeaderBlock(rest, &sizeDelimiter{max: -1}, head.addHeader)
	if herr != nil {
		return nil, herr
	}
	if !done {
		return nil, newDecodeError(KindMalformedHeader, "embedded HTTP head missing terminating blank line")
	}
	if adv+total != len(window) {
		return nil, newDecodeError(KindMalformedHeader, "embedded HTTP head does not fill its declared byte window")
	}
	return head, nil
}

// readHeaderBlock reads logical header lines from buf until the blank
// line that terminates a header block, feeding each name/value pair
// to add and each line's length to budget.
func readHeaderBlock(buf []byte, budget *sizeDelimiter, add func(name, value string)) (advance int, done bool, err error) {
	total := 0
	for {
		value, n, ok, lerr := readSingleHeaderLine(buf[total:], -1)
		if lerr != nil {
			return total, false, lerr
		}
		if !ok {
			// Everything left in buf belongs to the incomplete logical
			// line, so it already counts against the budget.
			if budget.max >= 0 && budget.count+len(buf)-total > budget.max {
				return total, false, newDecodeError(KindFrameTooLong, "configured size budget exceeded")
			}
			return total, false, nil
		}
		if berr := budget.add(n); berr != nil {
			return total, false, berr
		}
		total += n
		if len(value) == 0 {
			bufpool.Put(value)
			return total, true, nil
		}
		name, val, serr := splitHeader(value)
		bufpool.Put(value)
		if serr != nil {
			return total, false, serr
		}
		if !validHeaderName(name) || !validHeaderValue(val) {
			return total, false, newDecodeError(KindMalformedHeader, "invalid header token")
		}
		add(name, val)
	}
}

// stepBodyChunk reads exactly one chunk-size line and, depending on
// its size, either the chunk payload or (for the terminal zero-size
// chunk) the trailer section, producing the single Result this Decode
// call returns.
func (d *Decoder) stepBodyChunk(buf []byte) (advance int, result Result, err error) {
	line, adv, ok, lerr := readLine(buf, 64)
	if lerr != nil {
		return 0, Result{}, lerr
	}
	if !ok {
		return 0, needMoreResult(), nil
	}
	total := adv

	size, ieof, perr := parseChunkSizeLine(line)
	if perr != nil {
		return 0, Result{}, perr
	}

	if size == 0 {
		trailerAdv, done, terr := readHeaderBlock(buf[total:], &sizeDelimiter{max: -1}, func(string, string) {})
		if terr != nil {
			return 0, Result{}, terr
		}
		if !done {
			return 0, needMoreResult(), nil
		}
		total += trailerAdv
		return total, d.finishBody(ieof), nil
	}

	if d.cfg.MaxChunkSize >= 0 && size > d.cfg.MaxChunkSize {
		return 0, Result{}, newDecodeError(KindFrameTooLong, "chunk exceeds configured maximum")
	}
	if d.previewActive && !ieof && size > d.previewAnnounced {
		return 0, Result{}, newDecodeError(KindMalformedChunk, "chunk exceeds announced preview size")
	}
	if len(buf[total:]) < size {
		return 0, needMoreResult(), nil
	}

	// Peek past the payload for its terminating CRLF before pulling a
	// buffer from the pool, so an incomplete chunk never leaves an
	// allocated-but-unused payload buffer behind.
	_, termAdv, termOK, termErr := readLine(buf[total+size:], -1)
	if termErr != nil {
		return 0, Result{}, termErr
	}
	if !termOK {
		return 0, needMoreResult(), nil
	}

	payload := append(bufpool.Get(size), buf[total:total+size]...)
	total += size + termAdv
	d.lastChunk = payload

	if d.previewActive {
		d.previewAnnounced -= size
	}
	return total, bodyChunkResult(payload), nil
}

// finishBody handles the zero-size terminal chunk: it decides whether
// this closes out a Preview sample (emitting PreviewComplete, possibly
// queuing EndOfMessage right behind it for the ieof case) or ends a
// non-preview body outright.
func (d *Decoder) finishBody(ieof bool) Result {
	if d.previewActive {
		d.previewActive = false
		if ieof {
			d.pending = append(d.pending, endOfMessageResult())
			d.state = stateSkipControlChars
			d.message = nil
			return previewCompleteResult()
		}
		d.awaitingCont = true
		d.state = stateAwaitContinuation
		return previewCompleteResult()
	}

	d.state = stateSkipControlChars
	d.message = nil
	return endOfMessageResult()
}

// parseChunkSizeLine parses a chunk-size line: hex digits, optionally
// followed by ";"-delimited extensions, one of which may be "ieof".
func parseChunkSizeLine(line []byte) (size int, ieof bool, err error) {
	sizeText := line
	if idx := bytes.IndexByte(line, ';'); idx >= 0 {
		sizeText = line[:idx]
		if bytes.Contains(bytes.ToLower(line[idx+1:]), []byte("ieof")) {
			ieof = true
		}
	}
	sizeText = bytes.TrimSpace(sizeText)
	n, perr := strconv.ParseInt(string(sizeText), 16, 32)
	if perr != nil || n < 0 {
		return 0, false, newDecodeError(KindMalformedChunk, "invalid chunk size")
	}
	return int(n), ieof, nil
}
