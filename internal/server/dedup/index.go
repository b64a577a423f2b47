// Package dedup is the fingerprint-keyed content index behind instant upload.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/repositories/objects"
	"github.com/google/uuid"
)

// Index looks up and registers stored objects by fingerprint.
type Index struct {
	objects objects.Repository
	logger  logging.Logger
}

func NewIndex(repo objects.Repository, logger logging.Logger) *Index {
	return &Index{objects: repo, logger: logger.With("module", "dedup")}
}

// LookupBatch returns the stored objects for every known fingerprint in one
// repository query. Empty and repeated fingerprints are ignored.
func (x *Index) LookupBatch(ctx context.Context, fingerprints []string) (map[string]*models.StoredObject, error) {
	uniq := Unique(fingerprints)
	out := make(map[string]*models.StoredObject, len(uniq))
	if len(uniq) == 0 {
		return out, nil
	}

	found, err := x.objects.ListByFingerprints(ctx, uniq)
	if err != nil {
		return nil, fmt.Errorf("lookup %d fingerprints: %w", len(uniq), err)
	}
	for _, o := range found {
		out[o.Fingerprint] = o
	}
	return out, nil
}

// Register inserts obj unless its fingerprint is already present. When
// another upload registered the same content first, the winner is returned
// together with an error wrapping common.ErrDedupConflict; the caller owns
// cleanup of its redundant object and must not surface the error.
func (x *Index) Register(ctx context.Context, obj *models.StoredObject) (*models.StoredObject, error) {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	won, err := x.objects.InsertIfAbsent(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", obj.Fingerprint, err)
	}
	if won {
		return obj, nil
	}

	winner, err := x.objects.GetByFingerprint(ctx, obj.Fingerprint)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// The winner was deleted between insert and read.
			return nil, fmt.Errorf("register %s: winner vanished: %w", obj.Fingerprint, common.ErrTransientTransfer)
		}
		return nil, fmt.Errorf("register %s: %w", obj.Fingerprint, err)
	}
	x.logger.Debug(ctx, "registration lost", "fingerprint", obj.Fingerprint, "winner", winner.ID, "loser_key", obj.StorageKey)
	return winner, fmt.Errorf("fingerprint %s held by %s: %w", obj.Fingerprint, winner.ID, common.ErrDedupConflict)
}

// Unique returns the distinct non-empty lowercase fingerprints, sorted.
func Unique(fingerprints []string) []string {
	seen := make(map[string]struct{}, len(fingerprints))
	out := make([]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		fp = strings.ToLower(strings.TrimSpace(fp))
		if fp == "" {
			continue
		}
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// Groups partitions files that share a declared fingerprint. The first file
// by index in each group is the leader; files without a fingerprint are
// always leaders.
func Groups(files []*models.TaskFile) (leaders, followers []*models.TaskFile) {
	sorted := make([]*models.TaskFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	seen := make(map[string]bool)
	for _, f := range sorted {
		if f.Fingerprint == "" {
			leaders = append(leaders, f)
			continue
		}
		if seen[f.Fingerprint] {
			followers = append(followers, f)
			continue
		}
		seen[f.Fingerprint] = true
		leaders = append(leaders, f)
	}
	return leaders, followers
}
