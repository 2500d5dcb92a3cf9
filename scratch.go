package invertix

import (
	"fmt"
	"io"
	"os"
)

// ScratchFile is the offsets scratch file described in §6: written
// sequentially during a build pass, then reopened for a sequential read
// during the document-index rewrite, then removed on success.
type ScratchFile interface {
	io.Writer
	// Reopen returns a reader over everything written so far, positioned
	// at the start. Reopen is only called after the writer side is done.
	Reopen() (io.ReadCloser, error)
	Close() error
	// Remove deletes the backing storage. Only called after a successful
	// rewrite; a failed build leaves the scratch file in place.
	Remove() error
}

// ScratchFactory creates ScratchFile instances. The default factory backs
// them with a real temporary file; a caller can supply another
// implementation (an in-memory one, say) through DirectIndexBuilder.Scratch.
// The tests in this package use the default temporary-file factory.
type ScratchFactory interface {
	Create() (ScratchFile, error)
}

// fileScratchFactory is the production ScratchFactory, backed by
// os.CreateTemp.
type fileScratchFactory struct {
	dir string
}

// NewFileScratchFactory returns a ScratchFactory that creates temp files in
// dir (the OS default temp directory if dir is empty).
func NewFileScratchFactory(dir string) ScratchFactory {
	return fileScratchFactory{dir: dir}
}

func (f fileScratchFactory) Create() (ScratchFile, error) {
	tf, err := os.CreateTemp(f.dir, "invertix-offsets-*.scratch")
	if err != nil {
		return nil, fmt.Errorf("creating offsets scratch file: %w", err)
	}
	return &osScratchFile{file: tf, path: tf.Name()}, nil
}

type osScratchFile struct {
	file *os.File
	path string
}

func (s *osScratchFile) Write(p []byte) (int, error) { return s.file.Write(p) }

func (s *osScratchFile) Reopen() (io.ReadCloser, error) {
	if err := s.file.Sync(); err != nil {
		return nil, err
	}
	return os.Open(s.path)
}

func (s *osScratchFile) Close() error { return s.file.Close() }

func (s *osScratchFile) Remove() error { return os.Remove(s.path) }
