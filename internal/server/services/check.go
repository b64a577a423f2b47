package services

import (
	"context"

	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/notify"
)

// DedupHit is a task file that was newly pointed at existing content.
type DedupHit struct {
	FileID      string
	Fingerprint string
	ObjectID    string
	StorageKey  string
	Size        int64
}

// DedupReport answers a duplicate check.
type DedupReport struct {
	// Existing maps every known fingerprint to its stored object.
	Existing map[string]*models.StoredObject
	// Marked lists files skipped by this call.
	Marked []DedupHit
	// SavedBytes is the size of all duplicate files of the task that match
	// the requested fingerprints, including ones marked by earlier calls.
	SavedBytes int64
}

// CheckDuplicates runs one batch lookup and marks every pending file whose
// content is already stored as a skipped duplicate. Counters move only for
// files this call marked, so repeating it is harmless.
func (s *UploadService) CheckDuplicates(ctx context.Context, taskID string, fingerprints []string) (*DedupReport, error) {
	existing, err := s.index.LookupBatch(ctx, fingerprints)
	if err != nil {
		return nil, err
	}
	report := &DedupReport{Existing: existing}

	var marked []*models.TaskFile
	task, err := s.mutateTask(ctx, taskID, func(ctx context.Context, r txRepos, task *models.UploadTask) (bool, error) {
		if len(existing) == 0 {
			return false, nil
		}
		files, err := r.files.ListByTask(ctx, task.ID)
		if err != nil {
			return false, err
		}

		now := s.now()
		changed := false
		for _, f := range files {
			obj, hit := existing[f.Fingerprint]
			if f.Fingerprint == "" || !hit {
				continue
			}
			if f.Status == models.FilePending && !task.Status.IsTerminal() {
				ok, err := r.files.MarkDuplicate(ctx, f.ID, obj, now)
				if err != nil {
					return false, err
				}
				if ok {
					f.Status = models.FileSkipped
					f.IsDuplicate = true
					f.DuplicatedFrom = obj.ID
					f.ObjectID = obj.ID
					f.StorageKey = obj.StorageKey
					f.StorageURL = obj.StorageURL

					task.UploadedFiles++
					task.UploadedSize += f.Size
					changed = true
					marked = append(marked, f)
					report.Marked = append(report.Marked, DedupHit{
						FileID: f.ID, Fingerprint: f.Fingerprint, ObjectID: obj.ID, StorageKey: obj.StorageKey, Size: f.Size,
					})
				}
			}
			if f.IsDuplicate {
				report.SavedBytes += f.Size
			}
		}
		clampCounters(task)
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if len(marked) > 0 {
		for _, f := range marked {
			s.publishFile(ctx, task, f)
		}
		s.publishTask(ctx, notify.TaskProgress, task)
		s.logger.Info(ctx, "duplicates skipped", "task_id", taskID, "files", len(marked), "saved_bytes", report.SavedBytes)
	}
	return report, nil
}
