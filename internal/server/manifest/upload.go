// Package manifest decodes client upload manifests and encodes the storage
// manifest produced when a task finishes.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/google/uuid"
)

const (
	DefaultPriority = 5
	MaxPriority     = 10

	maxTaskNameLen = 255
	maxPathLen     = 1024
	maxFileNameLen = 255
)

// ClientInfo describes the submitting client.
type ClientInfo struct {
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// FileEntry is one validated manifest entry.
type FileEntry struct {
	Index            int        `json:"index"`
	LocalPath        string     `json:"local_path"`
	TargetFolderPath string     `json:"target_folder_path"`
	FileName         string     `json:"file_name"`
	FileSize         int64      `json:"file_size"`
	Fingerprint      string     `json:"fingerprint,omitempty"`
	MimeType         string     `json:"mime_type,omitempty"`
	ModifiedTime     *time.Time `json:"modified_time,omitempty"`
}

// UploadManifest is a manifest that passed Decode. Only Decode builds it
// from untrusted input, so holders may rely on every invariant.
type UploadManifest struct {
	TaskName   string      `json:"task_name"`
	DriveID    string      `json:"drive_id"`
	Priority   int         `json:"priority"`
	TotalFiles int         `json:"total_files"`
	TotalSize  int64       `json:"total_size"`
	ClientInfo *ClientInfo `json:"client_info,omitempty"`
	Files      []FileEntry `json:"files"`
}

// FolderPaths returns the distinct target folder paths in first-seen order.
func (m *UploadManifest) FolderPaths() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range m.Files {
		if _, ok := seen[f.TargetFolderPath]; ok {
			continue
		}
		seen[f.TargetFolderPath] = struct{}{}
		out = append(out, f.TargetFolderPath)
	}
	return out
}

// Fingerprints returns the distinct declared fingerprints.
func (m *UploadManifest) Fingerprints() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range m.Files {
		if f.Fingerprint == "" {
			continue
		}
		if _, ok := seen[f.Fingerprint]; ok {
			continue
		}
		seen[f.Fingerprint] = struct{}{}
		out = append(out, f.Fingerprint)
	}
	return out
}

// wire types keep required fields as pointers so "missing" and "zero"
// can be told apart.
type wireFile struct {
	Index            *int       `json:"index"`
	LocalPath        *string    `json:"local_path"`
	TargetFolderPath *string    `json:"target_folder_path"`
	FileName         *string    `json:"file_name"`
	FileSize         *int64     `json:"file_size"`
	Fingerprint      string     `json:"fingerprint"`
	MimeType         string     `json:"mime_type"`
	ModifiedTime     *time.Time `json:"modified_time"`
}

type wireManifest struct {
	TaskName   *string     `json:"task_name"`
	DriveID    *string     `json:"drive_id"`
	Priority   *int        `json:"priority"`
	TotalFiles *int        `json:"total_files"`
	TotalSize  *int64      `json:"total_size"`
	ClientInfo *ClientInfo `json:"client_info"`
	Files      []wireFile  `json:"files"`
}

// Codec validates upload manifests and renders storage manifests.
type Codec struct {
	hasher              *fingerprint.Hasher
	inlineHashThreshold int64
	maxFiles            int
}

// NewCodec builds a Codec. Files without a declared fingerprint are
// accepted only when smaller than inlineHashThreshold.
func NewCodec(hasher *fingerprint.Hasher, inlineHashThreshold int64, maxFiles int) *Codec {
	return &Codec{hasher: hasher, inlineHashThreshold: inlineHashThreshold, maxFiles: maxFiles}
}

// Rejection explains why a manifest was refused. Index is the position of
// the offending files[] entry, or -1 when the problem is manifest-wide. It
// unwraps to a *common.ValidationError.
type Rejection struct {
	Field  string
	Index  int
	Reason string
}

func (r *Rejection) Error() string { return r.Unwrap().Error() }

func (r *Rejection) Unwrap() error {
	return &common.ValidationError{Field: r.Field, Reason: r.Reason}
}

func reject(index int, field, format string, args ...any) *Rejection {
	return &Rejection{Field: field, Index: index, Reason: fmt.Sprintf(format, args...)}
}

// Decoded is the outcome of Parse: exactly one of Valid and Rejected is set.
type Decoded struct {
	Valid    *UploadManifest
	Rejected *Rejection
}

// Parse strictly validates raw and reports either the manifest or the first
// problem found.
func (c *Codec) Parse(raw []byte) Decoded {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var w wireManifest
	if err := dec.Decode(&w); err != nil {
		return Decoded{Rejected: reject(-1, "", "malformed manifest: %v", err)}
	}
	if dec.More() {
		return Decoded{Rejected: reject(-1, "", "trailing data after manifest")}
	}

	m, rej := c.validate(&w)
	if rej != nil {
		return Decoded{Rejected: rej}
	}
	return Decoded{Valid: m}
}

// Decode is Parse for callers that only need an error. A refused manifest
// yields a *Rejection and no manifest.
func (c *Codec) Decode(raw []byte) (*UploadManifest, error) {
	d := c.Parse(raw)
	if d.Rejected != nil {
		return nil, d.Rejected
	}
	return d.Valid, nil
}

func (c *Codec) validate(w *wireManifest) (*UploadManifest, *Rejection) {
	m := &UploadManifest{Priority: DefaultPriority, ClientInfo: w.ClientInfo}

	if w.TaskName == nil || strings.TrimSpace(*w.TaskName) == "" {
		return nil, reject(-1, "task_name", "is required")
	}
	if len(*w.TaskName) > maxTaskNameLen {
		return nil, reject(-1, "task_name", "longer than %d", maxTaskNameLen)
	}
	m.TaskName = *w.TaskName

	if w.DriveID == nil || *w.DriveID == "" {
		return nil, reject(-1, "drive_id", "is required")
	}
	if _, err := uuid.Parse(*w.DriveID); err != nil {
		return nil, reject(-1, "drive_id", "must be a UUID")
	}
	m.DriveID = *w.DriveID

	if w.Priority != nil {
		if *w.Priority < 0 || *w.Priority > MaxPriority {
			return nil, reject(-1, "priority", "must be within 0..%d", MaxPriority)
		}
		m.Priority = *w.Priority
	}

	if len(w.Files) == 0 {
		return nil, reject(-1, "files", "must not be empty")
	}
	if c.maxFiles > 0 && len(w.Files) > c.maxFiles {
		return nil, reject(-1, "files", "more than %d entries", c.maxFiles)
	}

	paths := make(map[string]int, len(w.Files))
	indices := make(map[int]struct{}, len(w.Files))
	m.Files = make([]FileEntry, 0, len(w.Files))

	for i, wf := range w.Files {
		f, rej := c.validateFile(i, &wf)
		if rej != nil {
			return nil, rej
		}
		if prev, dup := paths[f.LocalPath]; dup {
			return nil, reject(i, fmt.Sprintf("files[%d].local_path", i), "duplicates files[%d]", prev)
		}
		paths[f.LocalPath] = i
		if _, dup := indices[f.Index]; dup {
			return nil, reject(i, fmt.Sprintf("files[%d].index", i), "duplicate index %d", f.Index)
		}
		indices[f.Index] = struct{}{}

		m.Files = append(m.Files, *f)
		m.TotalSize += f.FileSize
	}
	m.TotalFiles = len(m.Files)

	if w.TotalFiles != nil && *w.TotalFiles != m.TotalFiles {
		return nil, reject(-1, "total_files", "declared %d, manifest lists %d", *w.TotalFiles, m.TotalFiles)
	}
	if w.TotalSize != nil && *w.TotalSize != m.TotalSize {
		return nil, reject(-1, "total_size", "declared %d, files sum to %d", *w.TotalSize, m.TotalSize)
	}

	return m, nil
}

func (c *Codec) validateFile(i int, wf *wireFile) (*FileEntry, *Rejection) {
	field := func(name string) string { return fmt.Sprintf("files[%d].%s", i, name) }

	if wf.LocalPath == nil || *wf.LocalPath == "" {
		return nil, reject(i, field("local_path"), "is required")
	}
	if len(*wf.LocalPath) > maxPathLen {
		return nil, reject(i, field("local_path"), "longer than %d", maxPathLen)
	}
	if wf.TargetFolderPath == nil || *wf.TargetFolderPath == "" {
		return nil, reject(i, field("target_folder_path"), "is required")
	}
	if !strings.HasPrefix(*wf.TargetFolderPath, "/") || len(*wf.TargetFolderPath) > maxPathLen {
		return nil, reject(i, field("target_folder_path"), "must be an absolute path up to %d chars", maxPathLen)
	}
	if wf.FileName == nil || *wf.FileName == "" {
		return nil, reject(i, field("file_name"), "is required")
	}
	if strings.Contains(*wf.FileName, "/") || *wf.FileName == "." || *wf.FileName == ".." || len(*wf.FileName) > maxFileNameLen {
		return nil, reject(i, field("file_name"), "invalid file name %q", *wf.FileName)
	}
	if wf.FileSize == nil {
		return nil, reject(i, field("file_size"), "is required")
	}
	if *wf.FileSize < 0 {
		return nil, reject(i, field("file_size"), "must not be negative")
	}

	fp := strings.ToLower(strings.TrimSpace(wf.Fingerprint))
	if fp == "" {
		if *wf.FileSize >= c.inlineHashThreshold {
			return nil, reject(i, field("fingerprint"), "required for files of %d bytes or more", c.inlineHashThreshold)
		}
	} else if !c.hasher.Valid(fp) {
		return nil, reject(i, field("fingerprint"), "not a %s fingerprint", c.hasher.Algorithm())
	}

	index := i
	if wf.Index != nil {
		index = *wf.Index
	}

	return &FileEntry{
		Index:            index,
		LocalPath:        *wf.LocalPath,
		TargetFolderPath: *wf.TargetFolderPath,
		FileName:         *wf.FileName,
		FileSize:         *wf.FileSize,
		Fingerprint:      fp,
		MimeType:         wf.MimeType,
		ModifiedTime:     wf.ModifiedTime,
	}, nil
}
