package icap

// ResultKind identifies which of the decoder's return channels a
// Result carries, in lieu of the exception-as-control-flow the
// original decoder used to signal under-run.
type ResultKind int

const (
	// NeedMore means buf did not contain a complete next unit; the
	// caller should append more bytes and call Decode again. No bytes
	// of the incomplete unit are counted in the returned advance.
	NeedMore ResultKind = iota
	// MessageHead fires exactly once per message, after the ICAP
	// initial line, the ICAP headers, and any embedded HTTP request
	// and response heads have all been fully parsed and attached.
	MessageHead
	// BodyChunk carries one de-chunked payload fragment. Chunk is
	// backed by a pooled buffer the decoder reclaims on the next
	// Decode or Reset call; a caller needing it longer must copy it out
	// first.
	BodyChunk
	// PreviewComplete fires when the body's preview phase ends, at the
	// zero-size chunk that closes the preview sample, with or without
	// the ieof extension. Reaching the announced preview size in chunk
	// bytes does not by itself fire it.
	PreviewComplete
	// EndOfMessage fires once the full message, including any body,
	// has been consumed. The decoder resets to SkipControlChars
	// immediately afterward.
	EndOfMessage
	// ResultDecodeError carries a fatal *DecodeError for the message in
	// progress.
	ResultDecodeError
)

func (k ResultKind) String() string {
	switch k {
	case NeedMore:
		return "NeedMore"
	case MessageHead:
		return "MessageHead"
	case BodyChunk:
		return "BodyChunk"
	case PreviewComplete:
		return "PreviewComplete"
	case EndOfMessage:
		return "EndOfMessage"
	case ResultDecodeError:
		return "DecodeError"
	default:
		return "Unknown"
	}
}

// Result is the single return value of Decoder.Decode. At most one of
// Message, Chunk, Err is meaningful, selected by Kind.
type Result struct {
	Kind    ResultKind
	Message *IcapMessage
	Chunk   []byte
	Err     error
}

func needMoreResult() Result {
	return Result{Kind: NeedMore}
}

func messageHeadResult(m *IcapMessage) Result {
	return Result{Kind: MessageHead, Message: m}
}

func bodyChunkResult(chunk []byte) Result {
	return Result{Kind: BodyChunk, Chunk: chunk}
}

func previewCompleteResult() Result {
	return Result{Kind: PreviewComplete}
}

func endOfMessageResult() Result {
	return Result{Kind: EndOfMessage}
}

func errorResult(err error) Result {
	return Result{Kind: ResultDecodeError, Err: err}
}
