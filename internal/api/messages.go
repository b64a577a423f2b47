// Package api declares the wire messages of the upload service and the
// gRPC plumbing shared by server and client. Messages travel as JSON.
package api

import (
	"encoding/json"
	"time"
)

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// CreateTaskRequest carries a raw upload manifest. The task starts right
// away unless Hold is set.
type CreateTaskRequest struct {
	Manifest json.RawMessage `json:"manifest"`
	Hold     bool            `json:"hold,omitempty"`
}

type TaskRequest struct {
	TaskID string `json:"task_id"`
}

// Task mirrors an upload task without its manifests.
type Task struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DriveID       string     `json:"drive_id"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	TotalFiles    int        `json:"total_files"`
	UploadedFiles int        `json:"uploaded_files"`
	TotalSize     int64      `json:"total_size"`
	UploadedSize  int64      `json:"uploaded_size"`
	Progress      float64    `json:"progress"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type ListTasksRequest struct {
	Status string `json:"status,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListTasksResponse struct {
	Tasks []Task `json:"tasks"`
}

// File mirrors one task file.
type File struct {
	ID             string  `json:"id"`
	Index          int     `json:"index"`
	LocalPath      string  `json:"local_path"`
	VirtualPath    string  `json:"virtual_path"`
	Size           int64   `json:"size"`
	Fingerprint    string  `json:"fingerprint,omitempty"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	StorageKey     string  `json:"storage_key,omitempty"`
	StorageURL     string  `json:"storage_url,omitempty"`
	IsDuplicate    bool    `json:"is_duplicate"`
	DuplicatedFrom string  `json:"duplicated_from,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	ErrorKind      string  `json:"error_kind,omitempty"`
	RetryCount     int     `json:"retry_count"`
}

type ListFilesResponse struct {
	Files []File `json:"files"`
}

type CheckDuplicatesRequest struct {
	TaskID       string   `json:"task_id"`
	Fingerprints []string `json:"fingerprints"`
}

// ExistingObject is stored content matching a requested fingerprint.
type ExistingObject struct {
	Fingerprint string `json:"fingerprint"`
	ObjectID    string `json:"object_id"`
	StorageKey  string `json:"storage_key"`
	StorageURL  string `json:"storage_url,omitempty"`
	Size        int64  `json:"size"`
}

type CheckDuplicatesResponse struct {
	Existing    []ExistingObject `json:"existing"`
	MarkedFiles []string         `json:"marked_files"`
	SavedBytes  int64            `json:"saved_bytes"`
}

type ProgressResponse struct {
	TaskID        string         `json:"task_id"`
	Status        string         `json:"status"`
	TotalFiles    int            `json:"total_files"`
	UploadedFiles int            `json:"uploaded_files"`
	TotalSize     int64          `json:"total_size"`
	UploadedSize  int64          `json:"uploaded_size"`
	Percent       float64        `json:"percent"`
	ByStatus      map[string]int `json:"by_status"`
}

type DeleteTaskRequest struct {
	TaskID string `json:"task_id"`
	Purge  bool   `json:"purge,omitempty"`
}

type DeleteTaskResponse struct{}

type ExportManifestRequest struct {
	TaskID       string `json:"task_id"`
	AllowPartial bool   `json:"allow_partial,omitempty"`
}

type ExportManifestResponse struct {
	Manifest json.RawMessage `json:"manifest"`
}

type DownloadLinksRequest struct {
	TaskID     string `json:"task_id"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type DownloadLink struct {
	FileID      string    `json:"file_id"`
	LocalPath   string    `json:"local_path"`
	VirtualPath string    `json:"virtual_path"`
	StorageKey  string    `json:"storage_key"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type DownloadLinksResponse struct {
	Links []DownloadLink `json:"links"`
}

type RetryFileRequest struct {
	TaskID string `json:"task_id"`
	FileID string `json:"file_id"`
}

type ArchiveTaskRequest struct {
	TaskID     string `json:"task_id"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

type ArchiveTaskResponse struct {
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
	Files      int       `json:"files"`
	Size       int64     `json:"size"`
}
