package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a streaming compression codec for database dump artifacts.
// The codec name is recorded in the manifest's database info so restore
// picks the matching decompressor.
type Codec interface {
	Name() string
	// Compress wraps w; the returned WriteCloser must be closed to flush.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress wraps r.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// ByName returns the codec for a configured name. Empty and "none" both
// mean no compression.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return noneCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Extension returns the artifact filename suffix for a codec name.
func Extension(name string) string {
	switch name {
	case "zstd":
		return ".zst"
	case "lz4":
		return ".lz4"
	default:
		return ""
	}
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Codec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
