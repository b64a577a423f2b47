package models

import (
	"strings"
	"time"
)

// FileStatus is the lifecycle state of a TaskFile.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileUploading FileStatus = "uploading"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
	FileSkipped   FileStatus = "skipped"
)

// IsTerminal reports whether the file has reached completed, skipped or failed.
func (s FileStatus) IsTerminal() bool {
	return s == FileCompleted || s == FileSkipped || s == FileFailed
}

// IsSuccess reports whether the file content is available in the store.
func (s FileStatus) IsSuccess() bool {
	return s == FileCompleted || s == FileSkipped
}

// TaskFile is one file within an UploadTask.
type TaskFile struct {
	ID     string
	TaskID string
	// Index is the position of the file in the submitted manifest.
	Index int
	// FolderID is the resolved virtual folder ("" for the drive root).
	FolderID string
	// ObjectID references the StoredObject once content is in the store.
	ObjectID string

	// LocalPath is the client path, opaque to the server.
	LocalPath        string
	TargetFolderPath string
	FileName         string
	Size             int64
	// Fingerprint is the declared fingerprint, replaced by the computed one
	// after a successful transfer.
	Fingerprint string
	MimeType    string

	Status   FileStatus
	Progress float64

	StorageKey string
	StorageURL string
	// Chunk is the multipart session header, nil for single-shot transfers.
	Chunk *ChunkState

	ErrorMessage string
	ErrorKind    string
	RetryCount   int

	IsDuplicate bool
	// DuplicatedFrom is the StoredObject the duplicate points at.
	DuplicatedFrom string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// VirtualPath is the path of the file inside the target drive.
func (f *TaskFile) VirtualPath() string {
	return VirtualPath(f.TargetFolderPath, f.FileName)
}

// VirtualPath joins a folder path and a file name with a single slash.
func VirtualPath(folder, name string) string {
	return strings.TrimRight(folder, "/") + "/" + name
}
