// Package compress expands file streams according to their file name
// extension, yielding one readable entry per contained stream.
package compress

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// File is the readable capability expansion consumes. Archive formats
// need random access in addition to sequential reads.
type File interface {
	io.ReadCloser
	io.ReaderAt
}

// Entry is one contained stream. Open defers decoder setup until the
// entry is actually consumed.
//
// Entry readers close only the decoder layer they add; the source File
// remains owned by the caller and must be closed after all entries are
// done.
type Entry struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Expand inspects name and returns the entries contained in f: the
// file itself when no known compression suffix is present, the single
// decompressed stream for gzip and zstd, or one entry per member for
// zip archives. Zip entries preserve archive order and skip directory
// members. size is the byte length of f, which zip needs to locate its
// central directory.
func Expand(f File, name string, size int64) ([]Entry, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return nil, fmt.Errorf("tar.gz archives are not supported: %s", name)

	case strings.HasSuffix(lower, ".gz"):
		return []Entry{{
			Name: name[:len(name)-len(".gz")],
			Open: func() (io.ReadCloser, error) {
				zr, err := gzip.NewReader(f)
				if err != nil {
					return nil, fmt.Errorf("failed to open gzip stream %s: %w", name, err)
				}
				return zr, nil
			},
		}}, nil

	case strings.HasSuffix(lower, ".zst"):
		return []Entry{{
			Name: name[:len(name)-len(".zst")],
			Open: func() (io.ReadCloser, error) {
				dec, err := zstd.NewReader(f)
				if err != nil {
					return nil, fmt.Errorf("failed to open zstd stream %s: %w", name, err)
				}
				return dec.IOReadCloser(), nil
			},
		}}, nil

	case strings.HasSuffix(lower, ".zip"):
		zr, err := zip.NewReader(f, size)
		if err != nil {
			return nil, fmt.Errorf("failed to read zip archive %s: %w", name, err)
		}
		entries := make([]Entry, 0, len(zr.File))
		for _, member := range zr.File {
			member := member
			if member.FileInfo().IsDir() {
				continue
			}
			entries = append(entries, Entry{
				Name: member.Name,
				Open: func() (io.ReadCloser, error) {
					rc, err := member.Open()
					if err != nil {
						return nil, fmt.Errorf("failed to open zip member %s in %s: %w", member.Name, name, err)
					}
					return rc, nil
				},
			})
		}
		return entries, nil

	default:
		return []Entry{{
			Name: name,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(f), nil
			},
		}}, nil
	}
}
