package bulkload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/kos-kit/kos-server/internal/rdfformat"
)

// listFiles returns path itself when it is a file, or the regular files
// directly inside it, sorted by name.
func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading bulk load path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing bulk load directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// compression is the decoder implied by a file suffix.
type compression string

const (
	compressionNone compression = ""
	compressionGzip compression = ".gz"
	compressionZstd compression = ".zst"
)

// detect splits the compression suffix off name and resolves the format of
// what remains.
func detect(name string) (rdfformat.Format, compression, error) {
	comp := compressionNone
	base := name
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case string(compressionGzip), string(compressionZstd):
		comp = compression(ext)
		base = strings.TrimSuffix(name, filepath.Ext(name))
	}

	ext := filepath.Ext(base)
	if ext == "" {
		return nil, comp, fmt.Errorf("%w: the path %s has no extension to guess a file format from",
			rdfformat.ErrUnknownFormat, name)
	}
	format, err := rdfformat.FromExtension(ext)
	if err != nil {
		return nil, comp, fmt.Errorf("not able to guess the file format of %s: %w", name, err)
	}
	if _, ok := format.(rdfformat.Results); ok {
		return nil, comp, fmt.Errorf("%w: %s is a query results format", rdfformat.ErrUnknownFormat, ext)
	}
	return format, comp, nil
}

// open returns a reader over the decompressed content of path.
func open(path string, comp compression) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch comp {
	case compressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return &stackedReader{Reader: gz, closers: []io.Closer{gz, f}}, nil
	case compressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		dec := zr.IOReadCloser()
		return &stackedReader{Reader: dec, closers: []io.Closer{dec, f}}, nil
	default:
		return f, nil
	}
}

// stackedReader closes a decoder and the file beneath it.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
