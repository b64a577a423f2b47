package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

// Summary aggregates a task's outcome.
type Summary struct {
	TotalFiles    int   `json:"total_files"`
	UploadedFiles int   `json:"uploaded_files"`
	FailedFiles   int   `json:"failed_files"`
	SkippedFiles  int   `json:"skipped_files"`
	TotalSize     int64 `json:"total_size"`
	StorageSaved  int64 `json:"storage_saved"`
}

// FileRecord describes one successfully stored file.
type FileRecord struct {
	FileID       string `json:"file_id"`
	TaskFileID   string `json:"task_file_id"`
	FileName     string `json:"file_name"`
	LocalPath    string `json:"local_path"`
	VirtualPath  string `json:"virtual_path"`
	StorageKey   string `json:"storage_key"`
	StorageURL   string `json:"storage_url"`
	FileSize     int64  `json:"file_size"`
	Fingerprint  string `json:"fingerprint"`
	UploadStatus string `json:"upload_status"`
	IsDuplicate  bool   `json:"is_duplicate"`
}

// Mappings are the lookup tables consumers use to locate uploaded content.
type Mappings struct {
	LocalToStorage  map[string]string `json:"local_to_storage"`
	LocalToVirtual  map[string]string `json:"local_to_virtual"`
	StorageToFileID map[string]string `json:"storage_to_file_id"`
}

// StorageManifest maps local paths to durable storage locations.
type StorageManifest struct {
	TaskID   string       `json:"task_id"`
	Status   string       `json:"status"`
	Summary  Summary      `json:"summary"`
	Files    []FileRecord `json:"files"`
	Mappings Mappings     `json:"mappings"`
}

// Build derives the storage manifest from task and file state. It is a pure
// function: it carries no timestamps and orders files by manifest index.
func Build(task *models.UploadTask, files []*models.TaskFile) *StorageManifest {
	sorted := make([]*models.TaskFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index < sorted[j].Index
		}
		return sorted[i].ID < sorted[j].ID
	})

	m := &StorageManifest{
		TaskID: task.ID,
		Status: string(task.Status),
		Summary: Summary{
			TotalFiles: task.TotalFiles,
			TotalSize:  task.TotalSize,
		},
		Files: []FileRecord{},
		Mappings: Mappings{
			LocalToStorage:  map[string]string{},
			LocalToVirtual:  map[string]string{},
			StorageToFileID: map[string]string{},
		},
	}

	for _, f := range sorted {
		switch f.Status {
		case models.FileCompleted:
			m.Summary.UploadedFiles++
		case models.FileSkipped:
			m.Summary.SkippedFiles++
		case models.FileFailed:
			m.Summary.FailedFiles++
		}
		if f.IsDuplicate {
			m.Summary.StorageSaved += f.Size
		}

		if !f.Status.IsSuccess() || f.ObjectID == "" || f.StorageKey == "" {
			continue
		}

		vp := f.VirtualPath()
		m.Files = append(m.Files, FileRecord{
			FileID:       f.ObjectID,
			TaskFileID:   f.ID,
			FileName:     f.FileName,
			LocalPath:    f.LocalPath,
			VirtualPath:  vp,
			StorageKey:   f.StorageKey,
			StorageURL:   f.StorageURL,
			FileSize:     f.Size,
			Fingerprint:  f.Fingerprint,
			UploadStatus: string(f.Status),
			IsDuplicate:  f.IsDuplicate,
		})
		m.Mappings.LocalToStorage[f.LocalPath] = f.StorageKey
		m.Mappings.LocalToVirtual[f.LocalPath] = vp
		m.Mappings.StorageToFileID[f.StorageKey] = f.ObjectID
	}

	return m
}

// Encode renders the storage manifest as JSON. Calling it twice on the same
// state yields identical bytes.
func Encode(task *models.UploadTask, files []*models.TaskFile) ([]byte, error) {
	b, err := json.Marshal(Build(task, files))
	if err != nil {
		return nil, fmt.Errorf("encode storage manifest: %w", err)
	}
	return b, nil
}

// DecodeStorage parses a storage manifest produced by Encode.
func DecodeStorage(raw []byte) (*StorageManifest, error) {
	var m StorageManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode storage manifest: %w", err)
	}
	return &m, nil
}
