package sftp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotConnected is returned when an operation requires an active
// session and EnsureConnected has not been called, or the client has
// been closed.
var ErrNotConnected = errors.New("sftp client is not connected")

// DirNotFoundError reports a listing against a directory that does not
// exist on the remote server.
type DirNotFoundError struct {
	Path string
}

func (e *DirNotFoundError) Error() string {
	return fmt.Sprintf("directory '%s' does not exist", e.Path)
}

// FileDescriptor describes one discovered remote file.
type FileDescriptor struct {
	Path         string
	Name         string
	Size         int64
	LastModified time.Time
}

// File is the readable handle passed between the pipeline stages.
// Remote handles and decrypted temp files both provide random access,
// which archive expansion needs.
type File interface {
	io.ReadCloser
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// remoteFS is the slice of the remote session the client consumes.
type remoteFS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (File, error)
	RealPath(path string) (string, error)
	Close() error
}
