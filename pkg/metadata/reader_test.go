package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

func TestRead(t *testing.T) {
	input := `{"id":"A1","url":"http://site.test/a","media_links":["/img/a.jpg","http://bad.test/x.png"]}

{"id":"A2","url":"http://site.test/b","media_links":[]}
`
	articles, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "A1", articles[0].ID)
	assert.Len(t, articles[0].MediaLinks, 2)
	assert.Equal(t, "A2", articles[1].ID)
	assert.Equal(t, 2, TotalLinks(articles))
}

func TestRead_MalformedLine(t *testing.T) {
	input := "{\"id\":\"A1\",\"url\":\"u\",\"media_links\":[]}\n{not json}\n"
	_, err := Read(strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrParsing)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRead_MissingID(t *testing.T) {
	_, err := Read(strings.NewReader(`{"url":"u","media_links":["a.jpg"]}`))
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igbo.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"A1","url":"http://site.test/a","media_links":["/a.jpg"]}`+"\n"), 0644))

	articles, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, articles, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestLanguageFromPath(t *testing.T) {
	assert.Equal(t, "igbo", LanguageFromPath("/data/meta/igbo.jsonl"))
	assert.Equal(t, "hausa", LanguageFromPath("hausa.json"))
	assert.Equal(t, "yoruba", LanguageFromPath("yoruba"))
}
