package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/reconcile"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// Columns is the header of every report, in order
var Columns = []string{
	"Id", "ImageUrl", "ArticleId", "ArticleIdx", "ArticleUrl", "ArticleLang",
	"Status", "Path", "Format", "Width", "Height", "AspectRatio",
}

// Writer receives reduced rows and persists them on Close
type Writer interface {
	WriteRow(row reconcile.Row) error
	Close() error
	Abort() // Discards everything written so far
}

// Create opens the report writer for lang under dir in the given format
// ("csv" or "sqlite") and returns it with the path it writes to.
func Create(format, dir, lang string) (Writer, string, error) {
	name := utils.SanitizeFilename(lang)
	if name == "" {
		name = "report"
	}
	switch format {
	case config.ReportFormatCSV, "":
		path := filepath.Join(dir, name+".csv")
		w, err := NewCSVWriter(path)
		return w, path, err
	case config.ReportFormatSQLite:
		path := filepath.Join(dir, name+".sqlite")
		w, err := NewSQLiteWriter(path)
		return w, path, err
	}
	return nil, "", fmt.Errorf("%w: unknown report format %q", utils.ErrConfigValidation, format)
}

// record renders row as text cells; absent metrics become empty cells.
func record(row reconcile.Row) []string {
	out := []string{
		row.ID, row.ImageURL, row.ArticleID, strconv.Itoa(row.ArticleIdx), row.ArticleURL, row.ArticleLang,
		string(row.Status), row.Path, "", "", "", "",
	}
	if m := row.Metrics; m != nil {
		out[8] = m.Format
		out[9] = strconv.Itoa(m.Width)
		out[10] = strconv.Itoa(m.Height)
		out[11] = strconv.FormatFloat(m.AspectRatio, 'f', -1, 64)
	}
	return out
}

// Export reduces articles into a new report for lang and returns its path.
// A failed export leaves no partial report behind.
func Export(ctx context.Context, reducer *reconcile.Reducer, articles []models.Article, format, dir, lang string) (string, *reconcile.Counts, error) {
	w, path, err := Create(format, dir, lang)
	if err != nil {
		return "", nil, err
	}
	counts, err := reducer.Reduce(ctx, articles, w.WriteRow)
	if err != nil {
		w.Abort()
		return "", counts, err
	}
	if err := w.Close(); err != nil {
		return "", counts, err
	}
	return path, counts, nil
}
