package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"

	"github.com/nightfield/signalgate/internal/schema"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'A', 'U', 'D', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("audit: invalid segment magic")
	ErrUnsupportedRecordVer    = errors.New("audit: unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("audit: invalid record header size")
	ErrChecksumMismatch        = errors.New("audit: record checksum mismatch")
)

// encodeRecord marshals a decision node to its on-disk representation:
// a fixed header, the JSON payload, and a trailing CRC32C checksum over
// both.
func encodeRecord(seq uint64, node schema.DecisionNode) ([]byte, error) {
	payload, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}

	header := make([]byte, recordHeaderSize)
	copy(header[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], recordVersion)
	binary.LittleEndian.PutUint16(header[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[12:20], seq)
	binary.LittleEndian.PutUint64(header[20:28], uint64(node.TimestampNs))

	sum := crc32.Update(0, crcTable, header)
	sum = crc32.Update(sum, crcTable, payload)

	out := make([]byte, 0, len(header)+len(payload)+recordChecksumSize)
	out = append(out, header...)
	out = append(out, payload...)
	var checksum [4]byte
	binary.LittleEndian.PutUint32(checksum[:], sum)
	out = append(out, checksum[:]...)
	return out, nil
}

// decodeRecordHeader parses a fixed record header and returns the
// declared payload length.
func decodeRecordHeader(src []byte) (seq uint64, tsNs int64, payloadLen uint32, err error) {
	if len(src) < recordHeaderSize {
		return 0, 0, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return 0, 0, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return 0, 0, 0, ErrUnsupportedRecordVer
	}
	if hs := binary.LittleEndian.Uint16(src[6:8]); hs != recordHeaderSize {
		return 0, 0, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen = binary.LittleEndian.Uint32(src[8:12])
	seq = binary.LittleEndian.Uint64(src[12:20])
	tsNs = int64(binary.LittleEndian.Uint64(src[20:28]))
	return seq, tsNs, payloadLen, nil
}

func verifyChecksum(header, payload, checksum []byte) error {
	sum := crc32.Update(0, crcTable, header)
	sum = crc32.Update(sum, crcTable, payload)
	if binary.LittleEndian.Uint32(checksum) != sum {
		return ErrChecksumMismatch
	}
	return nil
}
