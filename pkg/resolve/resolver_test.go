package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sriram-PR/media-harvester/pkg/config"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	cfg := config.AppConfig{}
	if _, err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return New(cfg.Resolver)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://site.test", BaseURL("http://site.test/news/2020/a.html"))
	assert.Equal(t, "https://site.test:8443", BaseURL("https://site.test:8443/a"))
	assert.Equal(t, "", BaseURL("not a url"))
	assert.Equal(t, "", BaseURL(""))
}

func TestAbsolute(t *testing.T) {
	tests := []struct {
		link, want string
	}{
		{"/img/a.jpg", "http://site.test/img/a.jpg"},
		{"//img/a.jpg", "http://site.test/img/a.jpg"},
		{"http://cdn.test/b.png", "http://cdn.test/b.png"},
		{"img/c.gif", "img/c.gif"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Absolute(tt.link, "http://site.test"), "Absolute(%q)", tt.link)
	}
}

func TestResolve_ArticleScenario(t *testing.T) {
	r := testResolver(t)
	articleURL := "http://site.test/articles/1"

	a := r.Resolve("/img/a.jpg", articleURL)
	assert.False(t, a.Skip)
	assert.Equal(t, "http://site.test/img/a.jpg", a.URL)
	assert.Equal(t, "site.test", a.Host)

	b := r.Resolve("http://bad.test/x.png", articleURL)
	assert.False(t, b.Skip)
	assert.Equal(t, "http://bad.test/x.png", b.URL)

	c := r.Resolve("http://cdn.test/y.html", articleURL)
	assert.True(t, c.Skip)
	assert.Equal(t, "http://cdn.test/y.html", c.URL)
	assert.Contains(t, c.Reason, ReasonSuffix)
}

func TestResolve_SkipRules(t *testing.T) {
	r := testResolver(t)
	tests := []struct {
		name   string
		link   string
		reason string
	}{
		{"empty", "   ", ReasonEmpty},
		{"data uri", "data:image/png;base64,AAAA", ReasonScheme},
		{"schemeless relative", "img/a.jpg", ReasonScheme},
		{"page suffix uppercase", "http://cdn.test/page.PHP", ReasonSuffix},
		{"skip host wildcard", "https://img.youtube.com/vi/x/0.jpg", ReasonHost},
		{"skip host exact", "https://youtu.be/abc.jpg", ReasonHost},
		{"embed marker", "http://site.test/embed/player.jpg", ReasonEmbed},
		{"query string", "http://site.test/pixel.gif?utm=1", ReasonQueryString},
		{"bare question mark", "http://site.test/pixel.gif?", ReasonQueryString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.link, "http://site.test/a")
			assert.True(t, res.Skip, "expected %q to be skipped", tt.link)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestResolve_AllowQuery(t *testing.T) {
	cfg := config.AppConfig{Resolver: config.ResolverConfig{AllowQuery: true}}
	_, err := cfg.Validate()
	assert.NoError(t, err)
	r := New(cfg.Resolver)

	res := r.Resolve("http://site.test/photo.jpg?w=640", "http://site.test/a")
	assert.False(t, res.Skip)
}

func TestMatchDomain(t *testing.T) {
	assert.True(t, MatchDomain("example.com", "example.com"))
	assert.True(t, MatchDomain("Sub.Example.com", "*.example.com"))
	assert.True(t, MatchDomain("example.com", "*.example.com"))
	assert.False(t, MatchDomain("badexample.com", "*.example.com"))
	assert.False(t, MatchDomain("other.com", "example.com"))
}
