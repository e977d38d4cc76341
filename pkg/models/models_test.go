package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemID(t *testing.T) {
	assert.Equal(t, "A1_0", ItemID("A1", 0))
	assert.Equal(t, "news-42_17", ItemID("news-42", 17))
}

func TestArticle_Unmarshal(t *testing.T) {
	line := `{"id":"A1","url":"http://site.test/a","media_links":["/img/a.jpg","http://x.test/b.png"],"lang":"igbo"}`
	var a Article
	require.NoError(t, json.Unmarshal([]byte(line), &a))
	assert.Equal(t, "A1", a.ID)
	assert.Equal(t, "http://site.test/a", a.URL)
	assert.Equal(t, []string{"/img/a.jpg", "http://x.test/b.png"}, a.MediaLinks)
	assert.Equal(t, "igbo", a.Lang)
}

func TestMediaRecord_OptionalGroupsOmitted(t *testing.T) {
	rec := MediaRecord{
		ID:           "A1_0",
		ImagePath:    "A1/a.jpg",
		ArticleID:    "A1",
		ArticleURL:   "http://site.test/a",
		ArticleIndex: 0,
		ImageURL:     "http://site.test/img/a.jpg",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "Image Path")
	assert.NotContains(t, raw, "Exception")
	assert.NotContains(t, raw, "Width")
	assert.NotContains(t, raw, "Skip Reason")
}

func TestMediaRecord_GroupsRoundTrip(t *testing.T) {
	input := `{
  "Id": "A1_1",
  "Image Path": "A1/useful/b.png",
  "Article Id": "A1",
  "Article URL": "http://site.test/a",
  "Article Index": 1,
  "Image URL": "http://site.test/b.png",
  "Format": "PNG",
  "Width": 640,
  "Height": 480,
  "AspectRatio": 1.3333,
  "FileSize": 2048
}`
	var rec MediaRecord
	require.NoError(t, json.Unmarshal([]byte(input), &rec))
	assert.True(t, rec.HasMetrics())
	assert.False(t, rec.Failed())
	assert.Equal(t, 640, rec.Width)
	assert.Equal(t, int64(2048), rec.FileSize)
}

func TestMediaRecord_SetFailure(t *testing.T) {
	var rec MediaRecord
	rec.SetFailure(errors.New("boom"), "NetworkError_Other")
	require.True(t, rec.Failed())
	assert.Equal(t, "[Exception]: boom", rec.Exception)
	assert.Equal(t, "NetworkError_Other", rec.Kind)
	assert.False(t, rec.HasMetrics())
}

func TestMediaRecord_Clone(t *testing.T) {
	rec := MediaRecord{ID: "A1_0", ImageMetrics: &ImageMetrics{Width: 10}}
	cp := rec.Clone()
	cp.Width = 99
	assert.Equal(t, 10, rec.Width)
	assert.Equal(t, 99, cp.Width)
}
