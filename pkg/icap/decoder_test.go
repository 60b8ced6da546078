package icap

import (
	"strconv"
	"strings"
	"testing"
)

// event is the test-visible projection of a Result: enough to assert
// on without reaching into *IcapMessage internals everywhere.
type event struct {
	kind   ResultKind
	method string
	uri    string
	chunk  string
	errKnd Kind
}

// drive feeds data into decoder in growing windows of step bytes (step
// == len(data) delivers it all at once; step == 1 exercises the
// resumable path byte by byte) and collects one event per emission
// until EndOfMessage or DecodeError.
func drive(t *testing.T, decoder *Decoder, data []byte, step int) []event {
	t.Helper()
	var events []event
	consumed, avail := 0, 0
	needMore := true
	guard := 0
	for {
		guard++
		if guard > 10000 {
			t.Fatal("drive: too many iterations, probable decoder stall")
		}
		if needMore && avail < len(data) {
			avail += step
			if avail > len(data) {
				avail = len(data)
			}
		}
		result, adv := decoder.Decode(data[consumed:avail])
		consumed += adv
		needMore = result.Kind == NeedMore

		switch result.Kind {
		case NeedMore:
			if avail >= len(data) {
				return events
			}
		case MessageHead:
			events = append(events, event{kind: MessageHead, method: result.Message.GetMethod(), uri: result.Message.URI})
		case BodyChunk:
			events = append(events, event{kind: BodyChunk, chunk: string(result.Chunk)})
		case PreviewComplete:
			events = append(events, event{kind: PreviewComplete})
			decoder.Continue()
		case EndOfMessage:
			events = append(events, event{kind: EndOfMessage})
			return events
		case ResultDecodeError:
			de, _ := result.Err.(*DecodeError)
			k := Kind(-1)
			if de != nil {
				k = de.Kind
			}
			events = append(events, event{kind: ResultDecodeError, errKnd: k})
			return events
		}
	}
}

func kinds(events []event) []ResultKind {
	out := make([]ResultKind, len(events))
	for i, e := range events {
		out[i] = e.kind
	}
	return out
}

func assertKinds(t *testing.T, got []event, want []ResultKind) {
	t.Helper()
	gk := kinds(got)
	if len(gk) != len(want) {
		t.Fatalf("event sequence = %v, want %v", gk, want)
	}
	for i := range want {
		if gk[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", gk, want)
		}
	}
}

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(DefaultConfig(), true, DefaultMessageFactory)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

// --- spec.md §8 concrete scenarios ---

func TestScenarioMinimalOptionsNullBody(t *testing.T) {
	input := "OPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nEncapsulated: null-body=0\r\n\r\n"

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{MessageHead, EndOfMessage})
	if events[0].method != "OPTIONS" || events[0].uri != "icap://s/echo" {
		t.Fatalf("head = %+v", events[0])
	}
}

func TestScenarioReqmodRequestHeadersEmptyBody(t *testing.T) {
	reqHead := "GET /x HTTP/1.1\r\nHost: origin\r\n\r\n"
	input := "REQMOD icap://s/p ICAP/1.0\r\n" +
		"Host: s\r\n" +
		"Encapsulated: req-hdr=0, null-body=" + strconv.Itoa(len(reqHead)) + "\r\n" +
		"\r\n" + reqHead

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{MessageHead, EndOfMessage})
}

func TestScenarioRespmodChunkedBodyWithPreview(t *testing.T) {
	reqHead := "GET /x HTTP/1.1\r\nHost: origin\r\n\r\n"
	resHead := "HTTP/1.1 200 OK\r\n\r\n"
	body := "4\r\nABCD\r\n0; ieof\r\n\r\n"

	input := "RESPMOD icap://s/p ICAP/1.0\r\n" +
		"Host: s\r\n" +
		"Encapsulated: req-hdr=0, res-hdr=" + strconv.Itoa(len(reqHead)) +
		", res-body=" + strconv.Itoa(len(reqHead)+len(resHead)) + "\r\n" +
		"Preview: 4\r\n" +
		"\r\n" + reqHead + resHead + body

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{MessageHead, BodyChunk, PreviewComplete, EndOfMessage})
	if events[1].chunk != "ABCD" {
		t.Fatalf("chunk = %q, want ABCD", events[1].chunk)
	}
}

func TestScenarioMissingHostHeader(t *testing.T) {
	input := "OPTIONS icap://s/echo ICAP/1.0\r\nEncapsulated: null-body=0\r\n\r\n"

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{ResultDecodeError})
	if events[0].errKnd != KindMissingMandatoryHeader {
		t.Fatalf("error kind = %v, want KindMissingMandatoryHeader", events[0].errKnd)
	}
}

func TestScenarioInitialLineExceedsCap(t *testing.T) {
	input := "OPTIONS icap://" + strings.Repeat("a", 5000) + "/x ICAP/1.0\r\n"

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{ResultDecodeError})
	if events[0].errKnd != KindFrameTooLong {
		t.Fatalf("error kind = %v, want KindFrameTooLong", events[0].errKnd)
	}
}

func TestScenarioGarbageResync(t *testing.T) {
	input := "\r\n\r\nOPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nEncapsulated: null-body=0\r\n\r\n"

	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{MessageHead, EndOfMessage})
}

// --- chunking invariance (spec.md §8 invariant 1) ---

func TestChunkingInvarianceAcrossScenarios(t *testing.T) {
	reqHead := "GET /x HTTP/1.1\r\nHost: origin\r\n\r\n"
	resHead := "HTTP/1.1 200 OK\r\n\r\n"
	body := "4\r\nABCD\r\n0; ieof\r\n\r\n"

	inputs := []string{
		"OPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nEncapsulated: null-body=0\r\n\r\n",
		"REQMOD icap://s/p ICAP/1.0\r\nHost: s\r\nEncapsulated: req-hdr=0, null-body=" + strconv.Itoa(len(reqHead)) + "\r\n\r\n" + reqHead,
		"RESPMOD icap://s/p ICAP/1.0\r\nHost: s\r\nEncapsulated: req-hdr=0, res-hdr=" + strconv.Itoa(len(reqHead)) +
			", res-body=" + strconv.Itoa(len(reqHead)+len(resHead)) + "\r\nPreview: 4\r\n\r\n" + reqHead + resHead + body,
	}

	for _, input := range inputs {
		whole := drive(t, newTestDecoder(t), []byte(input), len(input))
		byteAtATime := drive(t, newTestDecoder(t), []byte(input), 1)
		if len(whole) != len(byteAtATime) {
			t.Fatalf("event count differs: whole=%d byte-at-a-time=%d (input %q)", len(whole), len(byteAtATime), input)
		}
		for i := range whole {
			if whole[i] != byteAtATime[i] {
				t.Fatalf("event %d differs: whole=%+v byte-at-a-time=%+v", i, whole[i], byteAtATime[i])
			}
		}
	}
}

// --- error acknowledgement ---

func TestDecoderStickyErrorUntilReset(t *testing.T) {
	input := "OPTIONS icap://s/echo ICAP/1.0\r\nEncapsulated: null-body=0\r\n\r\n"
	d := newTestDecoder(t)
	events := drive(t, d, []byte(input), len(input))
	assertKinds(t, events, []ResultKind{ResultDecodeError})

	result, adv := d.Decode([]byte("more garbage"))
	if result.Kind != ResultDecodeError || adv != 0 {
		t.Fatalf("expected sticky DecodeError with no consumption, got kind=%v adv=%d", result.Kind, adv)
	}

	d.Reset()
	good := "OPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nEncapsulated: null-body=0\r\n\r\n"
	events = drive(t, d, []byte(good), len(good))
	assertKinds(t, events, []ResultKind{MessageHead, EndOfMessage})
}

func TestNewDecoderRejectsInvalidConfig(t *testing.T) {
	_, err := NewDecoder(Config{MaxInitialLineLength: 0, MaxIcapHeaderSize: 10, MaxChunkSize: 10}, true, nil)
	if err == nil {
		t.Fatal("expected error for zero MaxInitialLineLength")
	}
}
