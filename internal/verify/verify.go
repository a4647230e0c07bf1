// Package verify checks that downloaded files are what portals claim they
// are. Portals like to answer an expired session with a login page, which
// then lands on disk under a .pdf name.
package verify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrNotPDF = errors.New("not a pdf file")

var pdfMagic = []byte("%PDF-")

var disableConfigDir sync.Once

type Result struct {
	Pages int
}

// PDF validates the file at path in relaxed mode and counts its pages.
func PDF(path string) (Result, error) {
	err := checkMagic(path)
	if err != nil {
		return Result{}, err
	}

	// keep pdfcpu from writing its config into the user's home
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	err = api.ValidateFile(path, conf)
	if err != nil {
		return Result{}, fmt.Errorf("validate %s: %w", path, err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("count pages of %s: %w", path, err)
	}
	return Result{Pages: pages}, nil
}

func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	_, err = io.ReadFull(f, head)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", path, ErrNotPDF)
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(head, pdfMagic) {
		return fmt.Errorf("%s: %w", path, ErrNotPDF)
	}
	return nil
}
