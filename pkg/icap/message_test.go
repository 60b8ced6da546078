package icap

import "testing"

func TestMessageHeaderLookup(t *testing.T) {
	m, err := NewIcapMessage("OPTIONS", "icap://s/echo", "ICAP/1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.addHeader("Host", "s")
	m.addHeader("X-Multi", "one")
	m.addHeader("x-multi", "two")

	if !m.ContainsHeader("HOST") {
		t.Fatal("expected case-insensitive containment")
	}
	v, ok := m.GetHeader("host")
	if !ok || v != "s" {
		t.Fatalf("GetHeader = %q, ok=%v", v, ok)
	}
	values := m.GetHeaderValues("X-MULTI")
	if len(values) != 2 || values[0] != "one" || values[1] != "two" {
		t.Fatalf("GetHeaderValues = %v", values)
	}
}

func TestMessageClearHeaders(t *testing.T) {
	m, _ := NewIcapMessage("OPTIONS", "icap://s/echo", "ICAP/1.0")
	m.addHeader("Host", "s")
	m.clearHeaders()
	if m.ContainsHeader("Host") {
		t.Fatal("expected headers cleared")
	}
}

func TestMessageEncapsulatedHeader(t *testing.T) {
	m, _ := NewIcapMessage("OPTIONS", "icap://s/echo", "ICAP/1.0")
	if _, ok := m.GetEncapsulatedHeader(); ok {
		t.Fatal("expected no descriptor before it's attached")
	}
	enc, err := parseEncapsulated("null-body=0", "OPTIONS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.setEncapsulatedHeader(enc)
	got, ok := m.GetEncapsulatedHeader()
	if !ok || !got.Has(SectionNullBody) {
		t.Fatalf("GetEncapsulatedHeader = %+v, ok=%v", got, ok)
	}
}
