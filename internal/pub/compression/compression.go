// Package compression maps a configured compression type to the codec that
// encodes the message packet of a frame.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnsupported is returned for compression types without a codec.
var ErrUnsupported = errors.New("unsupported compression type")

// Type is the compression code transmitted in the message metadata.
type Type int32

const (
	None   Type = 0
	LZ4    Type = 1
	ZLIB   Type = 2
	ZSTD   Type = 3
	SNAPPY Type = 4
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZLIB:
		return "zlib"
	case ZSTD:
		return "zstd"
	case SNAPPY:
		return "snappy"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Strategy encodes message packets for one compression type.
type Strategy interface {
	Type() Type
	Name() string
	Encode(src []byte) ([]byte, error)
	// Decode reverses Encode. size is the uncompressed length announced in the metadata.
	Decode(src []byte, size int) ([]byte, error)
}

// New returns the strategy for a configured compression name. An empty name
// selects no compression.
func New(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return ForType(None)
	case "lz4":
		return ForType(LZ4)
	case "zlib":
		return ForType(ZLIB)
	case "zstd":
		return ForType(ZSTD)
	case "snappy":
		return ForType(SNAPPY)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}

// ForType returns the strategy for a wire compression code.
func ForType(t Type) (Strategy, error) {
	switch t {
	case None:
		return noneStrategy{}, nil
	case LZ4:
		return lz4Strategy{}, nil
	case ZLIB:
		return zlibStrategy{}, nil
	case ZSTD:
		s, err := sharedZstd()
		if err != nil {
			return nil, err
		}
		return s, nil
	case SNAPPY:
		return snappyStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

type noneStrategy struct{}

func (noneStrategy) Type() Type   { return None }
func (noneStrategy) Name() string { return None.String() }

func (noneStrategy) Encode(src []byte) ([]byte, error) {
	return src, nil
}

func (noneStrategy) Decode(src []byte, _ int) ([]byte, error) {
	return src, nil
}

type zlibStrategy struct{}

func (zlibStrategy) Type() Type   { return ZLIB }
func (zlibStrategy) Name() string { return ZLIB.String() }

func (zlibStrategy) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibStrategy) Decode(src []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()

	out := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(out, zr); err != nil {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	return out.Bytes(), nil
}

// lz4Strategy uses raw LZ4 blocks, not the LZ4 frame format.
type lz4Strategy struct{}

func (lz4Strategy) Type() Type   { return LZ4 }
func (lz4Strategy) Name() string { return LZ4.String() }

func (lz4Strategy) Encode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		return nil, errors.New("lz4 compress: block not written")
	}
	return dst[:n], nil
}

func (lz4Strategy) Decode(src []byte, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 uncompress: %w", err)
	}
	return dst[:n], nil
}

// sharedZstd holds one encoder and decoder for the process. EncodeAll and
// DecodeAll are safe for concurrent use.
var sharedZstd = sync.OnceValues(newZstdStrategy)

type zstdStrategy struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdStrategy() (*zstdStrategy, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &zstdStrategy{encoder: encoder, decoder: decoder}, nil
}

func (*zstdStrategy) Type() Type   { return ZSTD }
func (*zstdStrategy) Name() string { return ZSTD.String() }

func (s *zstdStrategy) Encode(src []byte) ([]byte, error) {
	return s.encoder.EncodeAll(src, nil), nil
}

func (s *zstdStrategy) Decode(src []byte, size int) ([]byte, error) {
	out, err := s.decoder.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// snappyStrategy uses the raw snappy block format.
type snappyStrategy struct{}

func (snappyStrategy) Type() Type   { return SNAPPY }
func (snappyStrategy) Name() string { return SNAPPY.String() }

func (snappyStrategy) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyStrategy) Decode(src []byte, _ int) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}
