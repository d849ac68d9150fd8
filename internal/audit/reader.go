package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/nightfield/signalgate/internal/schema"
)

// ErrMaxPayloadExceeded is returned when a record declares a payload
// larger than the reader's configured limit, guarding against a
// corrupted length field causing an unbounded allocation.
var ErrMaxPayloadExceeded = errors.New("audit: record payload exceeds max size")

// ReaderOptions tunes a Reader's validation strictness.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes a sequence of audit records from an underlying stream.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	header  []byte
	payload []byte
}

// NewReader wraps r for sequential record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	if opts.MaxPayloadSize <= 0 {
		opts.MaxPayloadSize = 16 << 20
	}
	return &Reader{
		r:      bufio.NewReaderSize(r, 64*1024),
		opts:   opts,
		header: make([]byte, recordHeaderSize),
	}
}

// Next decodes the next decision node in the stream, or io.EOF at a
// clean segment boundary.
func (rd *Reader) Next() (schema.DecisionNode, uint64, error) {
	if _, err := io.ReadFull(rd.r, rd.header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return schema.DecisionNode{}, 0, err
	}

	seq, _, payloadLen, err := decodeRecordHeader(rd.header)
	if err != nil {
		return schema.DecisionNode{}, 0, err
	}
	if int(payloadLen) > rd.opts.MaxPayloadSize {
		return schema.DecisionNode{}, 0, ErrMaxPayloadExceeded
	}

	if cap(rd.payload) < int(payloadLen) {
		rd.payload = make([]byte, payloadLen)
	}
	payload := rd.payload[:payloadLen]
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return schema.DecisionNode{}, 0, io.ErrUnexpectedEOF
	}

	var checksum [recordChecksumSize]byte
	if _, err := io.ReadFull(rd.r, checksum[:]); err != nil {
		return schema.DecisionNode{}, 0, io.ErrUnexpectedEOF
	}
	if !rd.opts.DisableChecksum {
		if err := verifyChecksum(rd.header, payload, checksum[:]); err != nil {
			return schema.DecisionNode{}, 0, err
		}
	}

	node, err := decodeNode(payload)
	if err != nil {
		return schema.DecisionNode{}, 0, err
	}
	return node, seq, nil
}

func decodeNode(payload []byte) (schema.DecisionNode, error) {
	var node schema.DecisionNode
	if err := json.Unmarshal(payload, &node); err != nil {
		return schema.DecisionNode{}, err
	}
	return node, nil
}
