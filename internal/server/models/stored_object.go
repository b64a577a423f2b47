package models

import "time"

// StoredObject is a unique content blob in the object store. Many TaskFiles
// may reference the same object.
type StoredObject struct {
	ID          string
	Fingerprint string
	StorageKey  string
	StorageURL  string
	Size        int64
	CreatedAt   time.Time
}

// Folder is a resolved virtual folder.
type Folder struct {
	ID       string
	DriveID  string
	ParentID string
	Name     string
	Path     string
	Level    int
}
