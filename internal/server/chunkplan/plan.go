// Package chunkplan decides whether a file is sent in one request or split
// into fixed-size parts, and computes the part layout.
package chunkplan

import "fmt"

// Range is the byte range of one chunk.
type Range struct {
	Index  int
	Offset int64
	Size   int64
}

// Layout is the chunk layout of one file. It is fully determined by
// (file size, chunk size), so a resumed transfer can rebuild it.
type Layout struct {
	FileSize  int64
	ChunkSize int64
	Chunks    []Range
}

// Count returns the number of chunks.
func (l *Layout) Count() int { return len(l.Chunks) }

// Plan returns nil for a single-shot transfer (fileSize < threshold or an
// empty file). Otherwise it splits the file into ceil(fileSize/chunkSize)
// chunks where only the last one may be shorter.
func Plan(fileSize, threshold, chunkSize int64) (*Layout, error) {
	if fileSize < 0 {
		return nil, fmt.Errorf("negative file size %d", fileSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if fileSize == 0 || fileSize < threshold {
		return nil, nil
	}

	count := (fileSize + chunkSize - 1) / chunkSize
	chunks := make([]Range, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * chunkSize
		size := chunkSize
		if rest := fileSize - offset; rest < size {
			size = rest
		}
		chunks = append(chunks, Range{Index: int(i), Offset: offset, Size: size})
	}

	return &Layout{FileSize: fileSize, ChunkSize: chunkSize, Chunks: chunks}, nil
}
