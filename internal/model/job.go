package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidJob is returned when a serialized job cannot be turned back into a Job.
var ErrInvalidJob = errors.New("invalid job payload")

// Job describes one uploaded image waiting for its thumbnail.
// It is built only after the file at Dir/FileName has been written.
//
// The JSON field order is part of the wire contract shared with other
// producers and consumers of the queue: id, file_name, dir.
type Job struct {
	ID       uint64 `json:"id"`
	FileName string `json:"file_name"`
	Dir      string `json:"dir"`
}

// NewJob creates a Job for a file row that was just inserted.
func NewJob(id uint64, fileName, dir string) Job {
	return Job{ID: id, FileName: fileName, Dir: dir}
}

// SourcePath returns the location of the original file.
func (j Job) SourcePath() string {
	return filepath.Join(j.Dir, j.FileName)
}

// Encode serializes the job to its wire form.
func (j Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %d: %w", j.ID, err)
	}

	return data, nil
}

// wireJob mirrors Job with pointer fields so missing keys can be told apart from zero values.
type wireJob struct {
	ID       *uint64 `json:"id"`
	FileName *string `json:"file_name"`
	Dir      *string `json:"dir"`
}

// DecodeJob parses a serialized job and validates it.
// Every failure wraps ErrInvalidJob.
func DecodeJob(data []byte) (Job, error) {
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	switch {
	case w.ID == nil:
		return Job{}, fmt.Errorf("%w: missing id", ErrInvalidJob)
	case w.FileName == nil || *w.FileName == "":
		return Job{}, fmt.Errorf("%w: missing file_name", ErrInvalidJob)
	case w.Dir == nil || *w.Dir == "":
		return Job{}, fmt.Errorf("%w: missing dir", ErrInvalidJob)
	}

	j := Job{ID: *w.ID, FileName: *w.FileName, Dir: *w.Dir}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}

	return j, nil
}

// Validate checks that the file name cannot escape the storage directory.
func (j Job) Validate() error {
	if j.FileName == "" || j.Dir == "" {
		return fmt.Errorf("%w: empty file_name or dir", ErrInvalidJob)
	}
	if strings.ContainsAny(j.FileName, `/\`) || j.FileName == "." || j.FileName == ".." {
		return fmt.Errorf("%w: file_name %q is not a plain file name", ErrInvalidJob, j.FileName)
	}

	return nil
}
