package xmsg

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"
)

// Attachment is a lazy byte-source handle carried alongside a message
// payload. Implementations must be safe for use by multiple recipients.
type Attachment interface {
	// CreateReader opens a fresh reader over the attached data. Each
	// recipient should close the reader it created.
	CreateReader() (io.ReadCloser, error)
	// Size returns the attachment size in bytes, or -1 if unknown.
	Size() int64
}

// FileAttachment holds attachment data in a file on disk.
type FileAttachment struct {
	filename   string
	autoDelete bool
	released   atomic.Bool
}

// NewFileAttachment creates a file-backed attachment. When autoDelete is
// set, the file is removed once the attachment is released.
func NewFileAttachment(filename string, autoDelete bool) *FileAttachment {
	return &FileAttachment{filename: filename, autoDelete: autoDelete}
}

func (a *FileAttachment) CreateReader() (io.ReadCloser, error) {
	return os.Open(a.filename)
}

func (a *FileAttachment) Size() int64 {
	fi, err := os.Stat(a.filename)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// Filename returns the path of the backing file.
func (a *FileAttachment) Filename() string { return a.filename }

// Release deletes the backing file if the attachment was created with
// autoDelete. Idempotent.
func (a *FileAttachment) Release() error {
	if !a.autoDelete || a.released.Swap(true) {
		return nil
	}
	return os.Remove(a.filename)
}

// MemoryAttachment holds attachment data in memory.
type MemoryAttachment struct {
	data []byte
}

func NewMemoryAttachment(data []byte) *MemoryAttachment {
	return &MemoryAttachment{data: data}
}

func (a *MemoryAttachment) CreateReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(a.data)), nil
}

func (a *MemoryAttachment) Size() int64 { return int64(len(a.data)) }
