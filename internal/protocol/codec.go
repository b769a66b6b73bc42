package protocol

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const frameHeaderBytes = 4

// DefaultMaxFrameBytes caps a single frame when no limit is configured.
const DefaultMaxFrameBytes = 1 << 20

var (
	// ErrEmptyFrame is returned for a zero-length frame.
	ErrEmptyFrame = errors.New("frame length zero")
	// ErrFrameTooLarge is returned when a peer announces a frame above the limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Encoder writes envelopes as length-prefixed JSON frames.
type Encoder struct {
	writer io.Writer
}

// Decoder reads length-prefixed JSON frames into envelopes.
type Decoder struct {
	reader   *bufio.Reader
	maxBytes uint32
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a decoder that rejects frames larger than maxBytes.
// A non-positive maxBytes selects DefaultMaxFrameBytes.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Decoder{reader: bufio.NewReader(r), maxBytes: uint32(maxBytes)}
}

// Encode writes the envelope as a single frame.
func (e *Encoder) Encode(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frame := make([]byte, frameHeaderBytes+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[frameHeaderBytes:], data)

	_, err = e.writer.Write(frame)
	return err
}

// Decode reads the next envelope from the stream.
func (d *Decoder) Decode(ctx context.Context) (Envelope, error) {
	var env Envelope

	var header [frameHeaderBytes]byte
	if err := d.readFull(ctx, header[:]); err != nil {
		return env, err
	}

	length := binary.BigEndian.Uint32(header[:])
	switch {
	case length == 0:
		return env, ErrEmptyFrame
	case length > d.maxBytes:
		return env, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, d.maxBytes)
	}

	payload := make([]byte, length)
	if err := d.readFull(ctx, payload); err != nil {
		return env, err
	}

	if err := json.Unmarshal(payload, &env); err != nil {
		return env, err
	}
	return env, nil
}

func (d *Decoder) readFull(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.reader.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 && read < len(buf) {
				return io.ErrUnexpectedEOF
			}
			if read == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}
