package metadata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

const maxLineBytes = 16 << 20 // Articles with thousands of links produce long lines

// ReadFile reads every article of a line-delimited JSON metadata file, in file order.
func ReadFile(path string) ([]models.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening metadata '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	articles, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("metadata '%s': %w", path, err)
	}
	return articles, nil
}

// Read decodes one Article per non-blank line.
func Read(r io.Reader) ([]models.Article, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var articles []models.Article
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var a models.Article
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", utils.ErrParsing, lineNum, err)
		}
		if a.ID == "" {
			return nil, fmt.Errorf("%w: line %d: article has no id", utils.ErrParsing, lineNum)
		}
		articles = append(articles, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading line %d: %w", utils.ErrParsing, lineNum+1, err)
	}
	return articles, nil
}

// LanguageFromPath derives the language name from the metadata file stem ("data/igbo.jsonl" -> "igbo").
func LanguageFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TotalLinks returns the number of media links across all articles.
func TotalLinks(articles []models.Article) int {
	total := 0
	for _, a := range articles {
		total += len(a.MediaLinks)
	}
	return total
}
