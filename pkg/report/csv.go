package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sriram-PR/media-harvester/pkg/reconcile"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// CSVWriter writes a report to a temporary file and renames it into place on Close.
type CSVWriter struct {
	path string
	tmp  *os.File
	w    *csv.Writer
}

// NewCSVWriter creates the report file's directory and writes the header.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating report directory: %w", utils.ErrFilesystem, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: creating report file: %w", utils.ErrFilesystem, err)
	}
	cw := &CSVWriter{path: path, tmp: tmp, w: csv.NewWriter(tmp)}
	if err := cw.w.Write(Columns); err != nil {
		cw.Abort()
		return nil, fmt.Errorf("%w: writing header: %w", utils.ErrFilesystem, err)
	}
	return cw, nil
}

// WriteRow implements Writer
func (c *CSVWriter) WriteRow(row reconcile.Row) error {
	if err := c.w.Write(record(row)); err != nil {
		return fmt.Errorf("%w: writing row %s: %w", utils.ErrFilesystem, row.ID, err)
	}
	return nil
}

// Close flushes the rows and moves the file to its final path.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := errors.Join(c.w.Error(), c.tmp.Close()); err != nil {
		os.Remove(c.tmp.Name())
		return fmt.Errorf("%w: finishing report: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(c.tmp.Name(), c.path); err != nil {
		os.Remove(c.tmp.Name())
		return fmt.Errorf("%w: renaming report into place: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Abort implements Writer
func (c *CSVWriter) Abort() {
	c.tmp.Close()
	os.Remove(c.tmp.Name())
}
