package snapshot

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/icapstream/icapd/pkg/icap"
)

func decodeOne(t *testing.T, input string) *icap.IcapMessage {
	t.Helper()
	d, err := icap.NewDecoder(icap.DefaultConfig(), true, icap.DefaultMessageFactory)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	result, _ := d.Decode([]byte(input))
	if result.Kind != icap.MessageHead {
		t.Fatalf("expected MessageHead, got %v (err=%v)", result.Kind, result.Err)
	}
	return result.Message
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	msg := decodeOne(t, "OPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nEncapsulated: null-body=0\r\n\r\n")

	data, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Method != "OPTIONS" || decoded.URI != "icap://s/echo" || decoded.Version != "ICAP/1.0" {
		t.Fatalf("decoded = %+v", decoded)
	}
	if len(decoded.Sections) != 1 || decoded.Sections[0].Kind != "null-body" {
		t.Fatalf("decoded sections = %+v", decoded.Sections)
	}
}

func TestMarshalWithEmbeddedRequestHead(t *testing.T) {
	reqHead := "GET /x HTTP/1.1\r\nHost: origin\r\n\r\n"
	input := "REQMOD icap://s/p ICAP/1.0\r\nHost: s\r\nEncapsulated: req-hdr=0, null-body=" +
		strconv.Itoa(len(reqHead)) + "\r\n\r\n" + reqHead

	msg := decodeOne(t, input)
	snap := FromMessage(msg)
	if snap.Request == nil {
		t.Fatal("expected embedded request head in snapshot")
	}
	if snap.Request.FirstToken != "GET" || snap.Request.SecondToken != "/x" {
		t.Fatalf("request head = %+v", snap.Request)
	}
	found := false
	for _, h := range snap.Request.Headers {
		if h.Name == "Host" && h.Value == "origin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Host: origin in embedded request headers, got %+v", snap.Request.Headers)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	msg := decodeOne(t, "OPTIONS icap://s/echo ICAP/1.0\r\nHost: s\r\nX-A: 1\r\nX-B: 2\r\nEncapsulated: null-body=0\r\n\r\n")

	first, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected deterministic encoding to produce identical bytes across calls")
	}
}

