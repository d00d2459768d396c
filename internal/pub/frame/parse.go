package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pulsarpub/internal/pub/checksum"
)

var (
	ErrShortFrame       = errors.New("frame truncated")
	ErrSizeMismatch     = errors.New("frame total size mismatch")
	ErrBadMagic         = errors.New("frame magic number mismatch")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// Frame is a parsed SEND frame. The byte slices alias the parsed buffer.
type Frame struct {
	TotalSize uint32
	Command   []byte
	Checksum  uint32
	Metadata  []byte
	// Payload is the compressed packet.
	Payload []byte

	// region is [metadataSize][metadata][payload], the checksummed bytes.
	region []byte
}

// ComputeChecksum recomputes the CRC32C of the checksummed region.
func (f *Frame) ComputeChecksum() uint32 {
	return checksum.Compute(f.region)
}

// Parse splits a frame into its regions and verifies its total size, magic
// number and checksum.
func Parse(b []byte) (*Frame, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}

	f := Frame{TotalSize: binary.BigEndian.Uint32(b[0:4])}
	if int(f.TotalSize) != len(b)-4 {
		return nil, fmt.Errorf("%w: header says %d, frame has %d", ErrSizeMismatch, f.TotalSize, len(b)-4)
	}

	r := reader{b: b, off: 4}
	commandSize, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if f.Command, err = r.bytes(int(commandSize)); err != nil {
		return nil, err
	}

	magic, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("%w: 0x%04x", ErrBadMagic, magic)
	}

	if f.Checksum, err = r.uint32(); err != nil {
		return nil, err
	}
	f.region = b[r.off:]

	metadataSize, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if f.Metadata, err = r.bytes(int(metadataSize)); err != nil {
		return nil, err
	}
	f.Payload = b[r.off:]

	if sum := f.ComputeChecksum(); sum != f.Checksum {
		return nil, fmt.Errorf("%w: frame carries 0x%08x, computed 0x%08x", ErrChecksumMismatch, f.Checksum, sum)
	}

	return &f, nil
}

// Command returns the command bytes of a frame without verifying the rest
// of it, so that a corrupt frame can still be answered by sequence id.
func Command(b []byte) ([]byte, error) {
	r := reader{b: b, off: 4}
	commandSize, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(commandSize))
}

// SplitPacket splits an uncompressed packet into its single message
// metadata and the message payload.
func SplitPacket(packet []byte) (metadata, payload []byte, err error) {
	r := reader{b: packet}
	size, err := r.uint32()
	if err != nil {
		return nil, nil, err
	}
	if metadata, err = r.bytes(int(size)); err != nil {
		return nil, nil, err
	}

	return metadata, packet[r.off:], nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortFrame, n, r.off, len(r.b)-r.off)
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	v, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

func (r *reader) uint16() (uint16, error) {
	v, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}
