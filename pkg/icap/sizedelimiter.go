package icap

// sizeDelimiter is a monotonic byte counter that fails once a budget
// is exceeded. It replaces scattered "if total > max" checks across
// the state machine (spec.md §4.B) with one accumulator per tracked
// quantity. The decoder bounds the ICAP header block with one; embedded
// HTTP heads and chunk trailers use an unbounded one, and chunk sizes
// are checked directly against MaxChunkSize.
type sizeDelimiter struct {
	max   int
	count int
}

func newSizeDelimiter(max int) sizeDelimiter {
	return sizeDelimiter{max: max}
}

// add accounts for n more bytes and reports a FrameTooLong error the
// first time the running total exceeds max. A negative max disables
// the check.
func (d *sizeDelimiter) add(n int) error {
	d.count += n
	if d.max >= 0 && d.count > d.max {
		return newDecodeError(KindFrameTooLong, "configured size budget exceeded")
	}
	return nil
}

func (d *sizeDelimiter) reset() {
	d.count = 0
}
