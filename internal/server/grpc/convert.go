package grpc

import (
	"sort"

	"github.com/dmitrijs2005/gophupload/internal/api"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
)

func taskToAPI(t *models.UploadTask) *api.Task {
	return &api.Task{
		ID:            t.ID,
		Name:          t.Name,
		DriveID:       t.DriveID,
		Status:        string(t.Status),
		Priority:      t.Priority,
		TotalFiles:    t.TotalFiles,
		UploadedFiles: t.UploadedFiles,
		TotalSize:     t.TotalSize,
		UploadedSize:  t.UploadedSize,
		Progress:      t.ProgressPercent(),
		ErrorMessage:  t.ErrorMessage,
		RetryCount:    t.RetryCount,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

func fileToAPI(f *models.TaskFile) api.File {
	return api.File{
		ID:             f.ID,
		Index:          f.Index,
		LocalPath:      f.LocalPath,
		VirtualPath:    f.VirtualPath(),
		Size:           f.Size,
		Fingerprint:    f.Fingerprint,
		Status:         string(f.Status),
		Progress:       f.Progress,
		StorageKey:     f.StorageKey,
		StorageURL:     f.StorageURL,
		IsDuplicate:    f.IsDuplicate,
		DuplicatedFrom: f.DuplicatedFrom,
		ErrorMessage:   f.ErrorMessage,
		ErrorKind:      f.ErrorKind,
		RetryCount:     f.RetryCount,
	}
}

func sortExisting(objs []api.ExistingObject) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Fingerprint < objs[j].Fingerprint })
}
