package wordfile

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression identifies the container around a word or merge file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect reports the compression of data from its leading magic bytes.
func Detect(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, magicZstd):
		return CompressionZstd
	case bytes.HasPrefix(data, magicGzip):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// ForPath picks the output compression from a file name suffix.
func ForPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// NewReader wraps r with a decompressor chosen from its first bytes.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(magicZstd))
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "sniffing input")
	}

	switch Detect(head) {
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		return zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening zstd stream")
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(br), nil
	}
}

// NewWriter wraps w with the compressor for c. Closing the result flushes the
// compressor but leaves w open.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd stream")
		}
		return zw, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Open opens path for reading, transparently decompressing it. "-" is stdin.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return NewReader(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &stackedCloser{Reader: r, closers: []io.Closer{r, f}}, nil
}

// Create creates path for writing, compressing by suffix. "-" is stdout.
func Create(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, ForPath(path))
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &stackedWriteCloser{Writer: w, closers: []io.Closer{w, f}}, nil
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error { return closeAll(s.closers) }

type stackedWriteCloser struct {
	io.Writer
	closers []io.Closer
}

func (s *stackedWriteCloser) Close() error { return closeAll(s.closers) }

// closeAll closes inner layers first and returns the first error.
func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
