package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"ledgernode/internal/crypto"
)

const MaxFrameSize = 16 << 20

var (
	ErrUnknownKind   = errors.New("unknown message kind")
	ErrKindMismatch  = errors.New("payload does not match envelope kind")
	ErrFrameTooLarge = errors.New("frame too large")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("proto: canonical cbor mode: " + err.Error())
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		IntDec:          cbor.IntDecConvertNone,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("proto: cbor decode mode: " + err.Error())
	}
	encMode, decMode = em, dm
}

// Envelope is a signed P2P message.
type Envelope struct {
	Kind      Kind
	Payload   Payload
	Sender    string
	Timestamp int64
	Signature string
}

type signedFields struct {
	Kind      Kind    `cbor:"kind"`
	Payload   Payload `cbor:"payload"`
	Sender    string  `cbor:"sender"`
	Timestamp int64   `cbor:"timestamp"`
}

type wireEnvelope struct {
	Kind      Kind            `cbor:"kind"`
	Payload   cbor.RawMessage `cbor:"payload"`
	Sender    string          `cbor:"sender"`
	Timestamp int64           `cbor:"timestamp"`
	Signature string          `cbor:"signature"`
}

// New builds an unsigned envelope for p.
func New(p Payload, sender string, timestampMs int64) Envelope {
	return Envelope{Kind: p.Kind(), Payload: p, Sender: sender, Timestamp: timestampMs}
}

func (e Envelope) check() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrKindMismatch)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Kind))
	}
	if e.Payload.Kind() != e.Kind {
		return fmt.Errorf("%w: %s carries %s", ErrKindMismatch, e.Kind, e.Payload.Kind())
	}
	return nil
}

// SigningBytes is the canonical CBOR encoding of every field except the
// signature.
func (e Envelope) SigningBytes() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return encMode.Marshal(signedFields{
		Kind:      e.Kind,
		Payload:   e.Payload,
		Sender:    e.Sender,
		Timestamp: e.Timestamp,
	})
}

// Sign sets the signature to the MAC of SigningBytes under key.
func (e *Envelope) Sign(key string) error {
	msg, err := e.SigningBytes()
	if err != nil {
		return err
	}
	e.Signature = crypto.Sign(msg, key)
	return nil
}

// Verify checks the signature using the declared sender as the MAC key.
func (e Envelope) Verify() bool {
	msg, err := e.SigningBytes()
	if err != nil {
		return false
	}
	return crypto.Verify(msg, e.Signature, e.Sender)
}

func Marshal(e Envelope) ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	data, err := encMode.Marshal(wireEnvelope{
		Kind:      e.Kind,
		Payload:   raw,
		Sender:    e.Sender,
		Timestamp: e.Timestamp,
		Signature: e.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if limit := MaxSizeForKind(e.Kind); len(data) > limit {
		return nil, fmt.Errorf("%w: %s envelope is %d bytes, limit %d", ErrFrameTooLarge, e.Kind, len(data), limit)
	}
	return data, nil
}

func Unmarshal(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !w.Kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(w.Kind))
	}
	if limit := MaxSizeForKind(w.Kind); len(data) > limit {
		return Envelope{}, fmt.Errorf("%w: %s envelope is %d bytes, limit %d", ErrFrameTooLarge, w.Kind, len(data), limit)
	}
	p, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:      w.Kind,
		Payload:   p,
		Sender:    w.Sender,
		Timestamp: w.Timestamp,
		Signature: w.Signature,
	}, nil
}

func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("invalid frame size")
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}

// WriteEnvelope marshals e and writes it as one frame.
func WriteEnvelope(w io.Writer, e Envelope) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

func ReadEnvelope(r io.Reader) (Envelope, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return Unmarshal(data)
}
