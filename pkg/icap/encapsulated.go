package icap

import (
	"strconv"
	"strings"
)

// SectionKind identifies one entry of an Encapsulated header value.
type SectionKind int

const (
	SectionReqHdr SectionKind = iota
	SectionResHdr
	SectionReqBody
	SectionResBody
	SectionOptBody
	SectionNullBody
)

func (k SectionKind) String() string {
	switch k {
	case SectionReqHdr:
		return "req-hdr"
	case SectionResHdr:
		return "res-hdr"
	case SectionReqBody:
		return "req-body"
	case SectionResBody:
		return "res-body"
	case SectionOptBody:
		return "opt-body"
	case SectionNullBody:
		return "null-body"
	default:
		return "unknown"
	}
}

func (k SectionKind) isBodyKind() bool {
	switch k {
	case SectionReqBody, SectionResBody, SectionOptBody, SectionNullBody:
		return true
	default:
		return false
	}
}

func parseSectionKind(token string) (SectionKind, bool) {
	switch token {
	case "req-hdr":
		return SectionReqHdr, true
	case "res-hdr":
		return SectionResHdr, true
	case "req-body":
		return SectionReqBody, true
	case "res-body":
		return SectionResBody, true
	case "opt-body":
		return SectionOptBody, true
	case "null-body":
		return SectionNullBody, true
	default:
		return 0, false
	}
}

// Section is one (kind, offset) entry of a parsed Encapsulated header.
type Section struct {
	Kind   SectionKind
	Offset int
}

// Encapsulated is the structured form of the ICAP Encapsulated header:
// an ordered list of (section-kind, byte-offset) pairs, with at most
// one body-kind entry which must be last if present.
type Encapsulated struct {
	Sections []Section
}

// Has reports whether kind appears anywhere in the descriptor.
func (e Encapsulated) Has(kind SectionKind) bool {
	for _, s := range e.Sections {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Offset returns the offset recorded for kind, and whether it was found.
func (e Encapsulated) Offset(kind SectionKind) (int, bool) {
	for _, s := range e.Sections {
		if s.Kind == kind {
			return s.Offset, true
		}
	}
	return 0, false
}

// BodyKind returns the single body-kind entry, if any.
func (e Encapsulated) BodyKind() (SectionKind, bool) {
	for _, s := range e.Sections {
		if s.Kind.isBodyKind() {
			return s.Kind, true
		}
	}
	return 0, false
}

// bodyKindIsNull reports whether the body-kind entry, if any, is null-body.
func (e Encapsulated) bodyKindIsNull() bool {
	kind, ok := e.BodyKind()
	return ok && kind == SectionNullBody
}

// sectionLength returns the byte length of the section starting at
// kind, computed as the difference to the next entry's offset. It is
// only meaningful for non-body (header) sections, which are always
// followed by another entry.
func (e Encapsulated) sectionLength(kind SectionKind) (int, bool) {
	for i, s := range e.Sections {
		if s.Kind == kind {
			if i+1 >= len(e.Sections) {
				return 0, false
			}
			return e.Sections[i+1].Offset - s.Offset, true
		}
	}
	return 0, false
}

// parseEncapsulated parses the raw value of an ICAP Encapsulated
// header (spec.md §4.C). method is the ICAP request method, used only
// to validate which section combinations are legal for it.
func parseEncapsulated(value string, method string) (Encapsulated, error) {
	parts := strings.Split(value, ",")
	sections := make([]Section, 0, len(parts))

	lastOffset := -1
	bodySeen := false
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "empty entry in Encapsulated header")
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 || eq == len(part)-1 {
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "malformed entry: "+part)
		}
		token := strings.TrimSpace(part[:eq])
		numText := strings.TrimSpace(part[eq+1:])
		kind, ok := parseSectionKind(token)
		if !ok {
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "unknown section: "+token)
		}
		offset, err := strconv.Atoi(numText)
		if err != nil || offset < 0 {
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "bad offset for "+token)
		}
		if offset < lastOffset {
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "offsets must be non-decreasing")
		}
		lastOffset = offset

		if kind.isBodyKind() {
			if bodySeen {
				return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "more than one body-kind entry")
			}
			bodySeen = true
		} else if bodySeen {
			// A body-kind entry was already seen and this one isn't a
			// body-kind: the body-kind wasn't last.
			return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "body-kind entry must be last")
		}

		sections = append(sections, Section{Kind: kind, Offset: offset})
	}

	if len(sections) == 0 {
		return Encapsulated{}, newDecodeError(KindInvalidEncapsulatedHeader, "empty Encapsulated header")
	}

	enc := Encapsulated{Sections: sections}
	if err := validateEncapsulatedForMethod(enc, method); err != nil {
		return Encapsulated{}, err
	}
	return enc, nil
}

// validateEncapsulatedForMethod enforces the per-method combinations
// from spec.md §4.C. Unknown methods accept any well-formed descriptor.
func validateEncapsulatedForMethod(enc Encapsulated, method string) error {
	bodyKind, hasBody := enc.BodyKind()

	switch strings.ToUpper(method) {
	case "OPTIONS":
		if enc.Has(SectionReqHdr) || enc.Has(SectionResHdr) || enc.Has(SectionReqBody) || enc.Has(SectionResBody) {
			return newDecodeError(KindInvalidEncapsulatedHeader, "OPTIONS may only carry opt-body or null-body")
		}
		if hasBody && bodyKind != SectionOptBody && bodyKind != SectionNullBody {
			return newDecodeError(KindInvalidEncapsulatedHeader, "OPTIONS may only carry opt-body or null-body")
		}
	case "REQMOD":
		if enc.Has(SectionResHdr) || enc.Has(SectionResBody) || enc.Has(SectionOptBody) {
			return newDecodeError(KindInvalidEncapsulatedHeader, "REQMOD may not carry res-hdr, res-body or opt-body")
		}
		if hasBody && bodyKind != SectionReqBody && bodyKind != SectionNullBody {
			return newDecodeError(KindInvalidEncapsulatedHeader, "REQMOD body-kind must be req-body or null-body")
		}
	case "RESPMOD":
		if enc.Has(SectionOptBody) {
			return newDecodeError(KindInvalidEncapsulatedHeader, "RESPMOD may not carry opt-body")
		}
		if !enc.Has(SectionResHdr) {
			return newDecodeError(KindInvalidEncapsulatedHeader, "RESPMOD requires res-hdr")
		}
		if hasBody && bodyKind != SectionResBody && bodyKind != SectionNullBody {
			return newDecodeError(KindInvalidEncapsulatedHeader, "RESPMOD body-kind must be res-body or null-body")
		}
	}
	return nil
}
