package icap

import (
	"bytes"

	"github.com/icapstream/icapd/pkg/icap/bufpool"
)

// The functions in this file are the lowest layer of the decoder: they
// scan a byte slice for one syntactic unit (a control-character run, a
// line, a folded header line) and report how much of the slice they
// consumed. None of them block or retain state; a false ok with a nil
// err always means "come back with more bytes appended to buf".

// isControlChar reports whether b is a byte the decoder should skip
// between messages (stray CR/LF left over from the previous message's
// terminator, per spec.md §4.A).
func isControlChar(b byte) bool {
	return b <= ' '
}

// skipControlCharacters advances past any leading run of control
// characters in buf. needMore is true when the entire slice was
// control characters and the caller should wait for more data before
// the state machine can tell where the run ends.
func skipControlCharacters(buf []byte) (advance int, needMore bool) {
	i := 0
	for i < len(buf) {
		if !isControlChar(buf[i]) {
			return i, false
		}
		i++
	}
	return i, true
}

// readLine scans buf for an LF-terminated line starting at offset 0,
// stripping a preceding CR if present. advance counts the bytes up to
// and including the terminator. ok is false with a nil error when no
// terminator has arrived yet; maxLen < 0 disables the length check.
func readLine(buf []byte, maxLen int) (line []byte, advance int, ok bool, err error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if maxLen >= 0 && len(buf) > maxLen {
			return nil, 0, false, newDecodeError(KindFrameTooLong, "line exceeds configured maximum")
		}
		return nil, 0, false, nil
	}
	end := idx
	if end > 0 && buf[end-1] == '\r' {
		end--
	}
	if maxLen >= 0 && end > maxLen {
		return nil, 0, false, newDecodeError(KindFrameTooLong, "line exceeds configured maximum")
	}
	return buf[:end], idx + 1, true, nil
}

// readSingleHeaderLine reads one logical header line starting at
// offset 0, unfolding RFC 2616 §2.2 continuation lines (a physical
// line beginning with SP or HTAB extends the previous one). Folding
// whitespace is collapsed to a single space. ok is false with a nil
// error when the logical line isn't fully buffered yet: either a
// physical line hasn't terminated, or the last buffered line ended in
// LF but there isn't yet a following byte to say whether it folds. A
// blank first line (the end of a header block) cannot be folded into,
// so it is returned at once as an empty value.
//
// The returned value is pulled from bufpool; callers are expected to
// call bufpool.Put(value) once they've copied out of it (typically
// immediately, via splitHeader).
func readSingleHeaderLine(buf []byte, maxLen int) (value []byte, advance int, ok bool, err error) {
	out := bufpool.Get(128)
	total := 0
	for {
		line, n, lineOK, lerr := readLine(buf[total:], -1)
		if lerr != nil {
			bufpool.Put(out)
			return nil, 0, false, lerr
		}
		if !lineOK {
			bufpool.Put(out)
			return nil, 0, false, nil
		}
		if total == 0 && len(line) == 0 {
			return out, n, true, nil
		}
		if len(out) == 0 {
			out = append(out, line...)
		} else {
			out = append(bytes.TrimRight(out, " \t"), ' ')
			out = append(out, bytes.TrimLeft(line, " \t")...)
		}
		total += n
		if maxLen >= 0 && len(out) > maxLen {
			bufpool.Put(out)
			return nil, 0, false, newDecodeError(KindFrameTooLong, "header line exceeds configured maximum")
		}
		if total < len(buf) && (buf[total] == ' ' || buf[total] == '\t') {
			continue
		}
		if total >= len(buf) {
			bufpool.Put(out)
			return nil, 0, false, nil
		}
		break
	}
	return out, total, true, nil
}

// splitInitialLine splits an ICAP request or response line on runs of
// whitespace into exactly three tokens, tolerating multiple spaces
// between tokens (spec.md §4.E). The third token keeps any interior
// single spaces (the reason phrase of a response line may itself
// contain spaces); only the whitespace run separating it from the
// second token is skipped.
func splitInitialLine(line []byte) (first, second, third string, err error) {
	a := bytes.IndexByte(line, ' ')
	if a < 0 {
		return "", "", "", newDecodeError(KindInvalidInitialLine, "expected three tokens")
	}
	rest := bytes.TrimLeft(line[a+1:], " ")

	b := bytes.IndexByte(rest, ' ')
	if b < 0 {
		return "", "", "", newDecodeError(KindInvalidInitialLine, "expected three tokens")
	}
	thirdTok := bytes.TrimLeft(rest[b+1:], " ")
	if len(thirdTok) == 0 {
		return "", "", "", newDecodeError(KindInvalidInitialLine, "expected three tokens")
	}
	return string(line[:a]), string(rest[:b]), string(thirdTok), nil
}

// splitHeader splits a single unfolded header line into name and
// value at the first colon.
func splitHeader(line []byte) (name, value string, err error) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", newDecodeError(KindMalformedHeader, "header line missing colon")
	}
	name = string(bytes.TrimSpace(line[:idx]))
	value = string(bytes.TrimSpace(line[idx+1:]))
	if name == "" {
		return "", "", newDecodeError(KindMalformedHeader, "empty header name")
	}
	return name, value, nil
}
