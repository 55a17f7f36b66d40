package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shoebox-app/shoebox/internal/media"
)

// Candidate is an in-memory reference to one not-yet-ingested file: its
// path, declared name, declared size and declared media type. Immutable
// once enqueued; name, size and type play no part in duplicate identity.
type Candidate struct {
	Path string
	Name string
	Size int64
	MIME string
}

// CandidateFromFile builds a Candidate for the file at path.
func CandidateFromFile(path string) (Candidate, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %q: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return Candidate{}, fmt.Errorf("%q is not a regular file", path)
	}
	return Candidate{
		Path: path,
		Name: filepath.Base(path),
		Size: fi.Size(),
		MIME: media.ContentType(path),
	}, nil
}
