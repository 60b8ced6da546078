// icapdump reads an ICAP message from a file or stdin, feeds it
// through an icap.Decoder in caller-controlled bursts, and logs each
// decoder event. It exists mainly to exercise the decoder end to end
// outside of a test binary, and optionally to produce a CBOR snapshot
// of the decoded message for use as a test fixture.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/icapstream/icapd/pkg/icap"
	"github.com/icapstream/icapd/pkg/icap/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		burst       int
		maxInitial  int
		maxHeader   int
		maxChunk    int
		isResponse  bool
		snapshotOut string
		connID      string
	)

	flagSet := pflag.NewFlagSet("icapdump", pflag.ContinueOnError)
	flagSet.IntVar(&burst, "burst", 4096, "bytes fed to the decoder per Decode call (use 1 to exercise chunking invariance)")
	flagSet.IntVar(&maxInitial, "max-initial-line", icap.DefaultMaxInitialLineLength, "maximum ICAP initial line length")
	flagSet.IntVar(&maxHeader, "max-header-size", icap.DefaultMaxIcapHeaderSize, "maximum cumulative ICAP header block size")
	flagSet.IntVar(&maxChunk, "max-chunk-size", icap.DefaultMaxChunkSize, "maximum single chunk payload size")
	flagSet.BoolVar(&isResponse, "response", false, "mark the decoder as decoding a response stream")
	flagSet.StringVar(&snapshotOut, "snapshot", "", "write a CBOR snapshot of the decoded message to this file")
	flagSet.StringVar(&connID, "conn-id", "", "opaque identifier attached to log lines for correlation")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var input io.Reader = os.Stdin
	if args := flagSet.Args(); len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		input = f
	}

	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	cfg := icap.Config{
		MaxInitialLineLength: maxInitial,
		MaxIcapHeaderSize:    maxHeader,
		MaxChunkSize:         maxChunk,
	}
	decoder, err := icap.NewDecoder(cfg, !isResponse, icap.DefaultMessageFactory)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	decoder.SetConnID(connID)

	return dump(decoder, data, burst, snapshotOut)
}

func dump(decoder *icap.Decoder, data []byte, burst int, snapshotOut string) error {
	if burst <= 0 {
		burst = len(data)
		if burst == 0 {
			burst = 1
		}
	}

	var logger *slog.Logger
	if id := decoder.ConnID(); id != "" {
		logger = slog.With("conn_id", id)
	} else {
		logger = slog.Default()
	}

	fed := 0
	pos := 0
	needMore := true
	for {
		if needMore && fed < len(data) {
			end := fed + burst
			if end > len(data) {
				end = len(data)
			}
			fed = end
		}

		result, advance := decoder.Decode(data[pos:fed])
		pos += advance
		needMore = result.Kind == icap.NeedMore

		switch result.Kind {
		case icap.NeedMore:
			if fed >= len(data) {
				logger.Warn("input ended with decoder still awaiting more bytes")
				return nil
			}
		case icap.MessageHead:
			logger.Info("message head",
				"method", result.Message.GetMethod(),
				"uri", result.Message.URI,
				"version", result.Message.Version)
			if snapshotOut != "" {
				if err := writeSnapshot(result.Message, snapshotOut); err != nil {
					return err
				}
			}
		case icap.BodyChunk:
			logger.Info("body chunk", "bytes", len(result.Chunk))
		case icap.PreviewComplete:
			logger.Info("preview complete")
			decoder.Continue()
		case icap.EndOfMessage:
			logger.Info("end of message")
			return nil
		case icap.ResultDecodeError:
			return fmt.Errorf("decode: %w", result.Err)
		}
	}
}

func writeSnapshot(m *icap.IcapMessage, path string) error {
	data, err := snapshot.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
