package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
)

// FilesystemOutput writes every HTTP exchange into its own file inside a
// directory, which is handy when writing a new scraper against an unknown
// portal.
type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput creates dir if needed. Request ids restart at 1 with
// every run, so a later run overwrites the files of an earlier one.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
