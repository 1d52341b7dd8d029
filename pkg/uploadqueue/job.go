package uploadqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusUploading Status = "UPLOADING"
	StatusDone      Status = "DONE"
	StatusError     Status = "ERROR"
)

const defaultMimeType = "application/octet-stream"

// File is an input to Enqueue: metadata plus a way to open the bytes.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// FromPath describes the file at path. The mime type is sniffed from the
// content.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	mimeType := defaultMimeType
	if mt, err := mimetype.DetectFile(path); err == nil {
		mimeType = mt.String()
	}

	return File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FromBytes wraps an in-memory payload.
func FromBytes(name string, data []byte) File {
	return File{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimetype.Detect(data).String(),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileJob is one entry in the queue. RootHash and TxHash are set only when
// Status is DONE, ErrorMessage only when Status is ERROR.
type FileJob struct {
	ID           string
	Name         string
	Size         int64
	MimeType     string
	Status       Status
	RootHash     string
	TxHash       string
	ErrorMessage string

	open func() (io.ReadCloser, error)
}

func (j FileJob) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}

type Receipt struct {
	RootHash string
	TxHash   string
}

// Uploader is the upload capability, normally the relay client.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (Receipt, error)
}

type UploaderFunc func(ctx context.Context, name string, r io.Reader) (Receipt, error)

func (f UploaderFunc) Upload(ctx context.Context, name string, r io.Reader) (Receipt, error) {
	return f(ctx, name, r)
}

type Stats struct {
	Total        int
	Done         int
	TotalSize    int64
	HasPending   bool
	HasCompleted bool
}
