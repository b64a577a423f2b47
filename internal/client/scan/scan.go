// Package scan walks a local directory and builds the upload manifest the
// server expects: one entry per regular file with its size, fingerprint and
// MIME type.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophupload/internal/fingerprint"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// Options control how a directory is turned into a manifest.
type Options struct {
	TaskName string
	DriveID  string
	Priority int
	// TargetFolder is the virtual folder the scanned root maps to.
	TargetFolder string
	// LocalPrefix is prepended to every local_path, so paths resolve
	// against the server's source root.
	LocalPrefix   string
	IncludeHidden bool
	Workers       int
	ClientVersion string
}

// Scan hashes every regular file below root. Entries are ordered by path so
// repeated scans of an unchanged tree produce identical manifests.
func Scan(ctx context.Context, root string, hasher *fingerprint.Hasher, opts Options) (*manifest.UploadManifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var rels []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("no files found in %s", root)
	}
	sort.Strings(rels)

	entries := make([]manifest.FileEntry, len(rels))
	g, ctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	g.SetLimit(workers)
	for i, rel := range rels {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := describe(filepath.Join(root, filepath.FromSlash(rel)), rel, hasher, opts)
			if err != nil {
				return err
			}
			e.Index = i
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &manifest.UploadManifest{
		TaskName: opts.TaskName,
		DriveID:  opts.DriveID,
		Priority: opts.Priority,
		ClientInfo: &manifest.ClientInfo{
			Platform: runtime.GOOS + "/" + runtime.GOARCH,
			Version:  opts.ClientVersion,
		},
		Files: entries,
	}
	if m.TaskName == "" {
		m.TaskName = filepath.Base(filepath.Clean(root))
	}
	for _, e := range entries {
		m.TotalFiles++
		m.TotalSize += e.FileSize
	}
	return m, nil
}

func describe(full, rel string, hasher *fingerprint.Hasher, opts Options) (manifest.FileEntry, error) {
	f, err := os.Open(full)
	if err != nil {
		return manifest.FileEntry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return manifest.FileEntry{}, err
	}

	fp, n, err := hasher.SumReader(f)
	if err != nil {
		return manifest.FileEntry{}, fmt.Errorf("hash %s: %w", rel, err)
	}
	if n != info.Size() {
		return manifest.FileEntry{}, fmt.Errorf("%s changed while reading", rel)
	}

	mime, err := mimetype.DetectFile(full)
	if err != nil {
		return manifest.FileEntry{}, fmt.Errorf("detect type of %s: %w", rel, err)
	}

	folder := path.Join("/", opts.TargetFolder, path.Dir(rel))
	mod := info.ModTime().UTC()
	return manifest.FileEntry{
		LocalPath:        path.Join(opts.LocalPrefix, rel),
		TargetFolderPath: folder,
		FileName:         path.Base(rel),
		FileSize:         n,
		Fingerprint:      fp,
		MimeType:         mime.String(),
		ModifiedTime:     &mod,
	}, nil
}

// Encode renders m as the JSON document accepted by CreateTask.
func Encode(m *manifest.UploadManifest) ([]byte, error) {
	return json.Marshal(m)
}
