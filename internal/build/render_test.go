package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type siteFixture struct {
	root      string
	pages     string
	includes  string
	output    string
	fragments Fragments
}

func newSiteFixture(t *testing.T) *siteFixture {
	t.Helper()
	root := t.TempDir()
	f := &siteFixture{
		root:     root,
		pages:    filepath.Join(root, "pages"),
		includes: filepath.Join(root, "includes"),
		output:   filepath.Join(root, "site"),
	}
	f.fragments = Fragments{
		Header:     filepath.Join(f.includes, "header.html"),
		Footer:     filepath.Join(f.includes, "footer.html"),
		PostFooter: filepath.Join(f.includes, "post.html"),
	}
	require.NoError(t, os.MkdirAll(f.pages, 0o755))
	require.NoError(t, os.MkdirAll(f.includes, 0o755))
	f.write(t, f.fragments.Header, "H")
	f.write(t, f.fragments.Footer, "F")
	f.write(t, f.fragments.PostFooter, "P")
	return f
}

func (f *siteFixture) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *siteFixture) page(t *testing.T, rel, content string) {
	t.Helper()
	f.write(t, filepath.Join(f.pages, filepath.FromSlash(rel)), content)
}

func (f *siteFixture) renderer(cfg RenderConfig) *PageRenderer {
	if cfg.SourceRoot == "" {
		cfg.SourceRoot = f.pages
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = f.output
	}
	if cfg.Fragments == (Fragments{}) {
		cfg.Fragments = f.fragments
	}
	return NewPageRenderer(cfg, nil, nil)
}

func (f *siteFixture) read(t *testing.T, rel string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.output, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(content)
}

func convert(t *testing.T, source string) string {
	t.Helper()
	out, err := NewMarkdown(DefaultHighlightStyle).Convert([]byte(source))
	require.NoError(t, err)
	return string(out)
}

func TestRenderPagesWrapsContent(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")

	require.NoError(t, f.renderer(RenderConfig{}).Execute(context.Background()))

	assert.Equal(t, "H"+convert(t, "# Hi")+"F", f.read(t, "a.html"))
	assert.Contains(t, f.read(t, "a.html"), "<h1>Hi</h1>")
}

func TestRenderPagesInsertsPostFooter(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")
	f.page(t, "posts/b.md", "post body")

	require.NoError(t, f.renderer(RenderConfig{}).Execute(context.Background()))

	assert.Equal(t, "H"+convert(t, "post body")+"P"+"F", f.read(t, "posts/b.html"))
	assert.Equal(t, "H"+convert(t, "# Hi")+"F", f.read(t, "a.html"))
}

func TestRenderPagesMirrorsNestedDirectories(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "notes/2017/march/c.md", "deep")
	f.page(t, "notes/readme.txt", "not markdown")
	f.page(t, ".drafts/secret.md", "hidden")

	require.NoError(t, f.renderer(RenderConfig{}).Execute(context.Background()))

	assert.Equal(t, "H"+convert(t, "deep")+"F", f.read(t, "notes/2017/march/c.html"))
	assert.NoFileExists(t, filepath.Join(f.output, "notes", "readme.html"))
	assert.NoDirExists(t, filepath.Join(f.output, ".drafts"))
}

func TestRenderPagesOnlyTopLevelPostsGetPostFooter(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "archive/posts/old.md", "old")

	require.NoError(t, f.renderer(RenderConfig{}).Execute(context.Background()))

	assert.Equal(t, "H"+convert(t, "old")+"F", f.read(t, "archive/posts/old.html"))
}

func TestRenderPagesIdempotent(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi\n\n```go\nfunc main() {}\n```\n")
	f.page(t, "posts/b.md", "* one\n* two\n")
	r := f.renderer(RenderConfig{})

	require.NoError(t, r.Execute(context.Background()))
	firstA, firstB := f.read(t, "a.html"), f.read(t, "posts/b.html")
	info, err := os.Stat(filepath.Join(f.output, "a.html"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Execute(context.Background()))

	assert.Equal(t, firstA, f.read(t, "a.html"))
	assert.Equal(t, firstB, f.read(t, "posts/b.html"))

	again, err := os.Stat(filepath.Join(f.output, "a.html"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "unchanged output is not rewritten")
}

func TestRenderPagesPicksUpFragmentChanges(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")
	r := f.renderer(RenderConfig{})

	require.NoError(t, r.Execute(context.Background()))
	f.write(t, f.fragments.Header, "NEW")
	require.NoError(t, r.Execute(context.Background()))

	assert.Equal(t, "NEW"+convert(t, "# Hi")+"F", f.read(t, "a.html"))
}

func TestRenderPagesHeadAndInlineStyles(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")
	head := filepath.Join(f.includes, "head.html")
	css := filepath.Join(f.root, "assets", "css", "main.css")
	f.write(t, head, "<meta>")
	f.write(t, css, "body{}")

	frag := f.fragments
	frag.Head = head
	r := f.renderer(RenderConfig{Fragments: frag, InlineStyles: []string{css}})

	require.NoError(t, r.Execute(context.Background()))
	assert.Equal(t, "<meta><style>body{}</style>H"+convert(t, "# Hi")+"F", f.read(t, "a.html"))
}

func TestRenderPagesStylesheetNotCompiledYet(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")
	css := filepath.Join(f.root, "assets", "css", "main.css")

	r := f.renderer(RenderConfig{Fragments: f.fragments, InlineStyles: []string{css}})

	require.NoError(t, r.Execute(context.Background()))
	assert.Equal(t, "<style></style>H"+convert(t, "# Hi")+"F", f.read(t, "a.html"))
}

func TestRenderPagesMissingInclude(t *testing.T) {
	testCases := []struct {
		name   string
		remove func(f *siteFixture) string
	}{
		{"header", func(f *siteFixture) string { return f.fragments.Header }},
		{"footer", func(f *siteFixture) string { return f.fragments.Footer }},
		{"post footer", func(f *siteFixture) string { return f.fragments.PostFooter }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSiteFixture(t)
			f.page(t, "a.md", "# Hi")
			f.page(t, "posts/b.md", "post")
			require.NoError(t, os.Remove(tc.remove(f)))

			err := f.renderer(RenderConfig{}).Execute(context.Background())
			require.Error(t, err)
			assert.True(t, siteerrors.IsType(err, siteerrors.ErrorTypeIncludeMissing))
			assert.True(t, siteerrors.IsRecoverable(err))
			assert.NoFileExists(t, filepath.Join(f.output, "a.html"), "no output without fragments")
		})
	}
}

func TestRenderPagesPostFooterOnlyNeededForPosts(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# Hi")
	require.NoError(t, os.Remove(f.fragments.PostFooter))

	require.NoError(t, f.renderer(RenderConfig{}).Execute(context.Background()))
	assert.FileExists(t, filepath.Join(f.output, "a.html"))
}

func TestRenderPagesMissingSourceRoot(t *testing.T) {
	f := newSiteFixture(t)
	r := f.renderer(RenderConfig{SourceRoot: filepath.Join(f.root, "missing")})

	err := r.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, siteerrors.IsRecoverable(err), "a vanished source root only costs one pass")

	var se *siteerrors.SiteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, siteerrors.ErrCodeRootMissing, se.Code)
}

func TestRenderPagesSourceRootIsFile(t *testing.T) {
	f := newSiteFixture(t)
	file := filepath.Join(f.root, "pages.md")
	f.write(t, file, "# not a dir")

	err := f.renderer(RenderConfig{SourceRoot: file}).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, siteerrors.IsRecoverable(err))

	var se *siteerrors.SiteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, siteerrors.ErrCodeRootNotDir, se.Code)
}

func TestRenderPagesCancelledWhileWaitingForOutput(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "a.md", "# A")

	var logs bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Output: &logs})
	guard := NewOutputGuard()
	r := NewPageRenderer(RenderConfig{
		SourceRoot: f.pages,
		OutputRoot: f.output,
		Fragments:  f.fragments,
	}, guard, logger)

	// Hold the output root so the pass blocks after collecting its pages.
	unlock := guard.Lock(f.output)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Execute(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	unlock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("render did not return")
	}
	assert.NoFileExists(t, filepath.Join(f.output, "a.html"))
	assert.Contains(t, logs.String(), "Operation failed")
	assert.Contains(t, logs.String(), "written=0")
}

func TestRenderPagesArchive(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "posts/2017-01-first-post.md", "one")
	f.page(t, "posts/2017-02-second_post.md", "two")
	f.page(t, "about.md", "about")

	require.NoError(t, f.renderer(RenderConfig{Archive: true}).Execute(context.Background()))

	index := f.read(t, ArchiveIndex)
	assert.Contains(t, index, `<a href="/posts/2017-02-second_post.html">2017 02 Second Post</a>`)
	assert.Contains(t, index, `<a href="/posts/2017-01-first-post.html">2017 01 First Post</a>`)
	assert.Less(t,
		strings.Index(index, "Second Post"),
		strings.Index(index, "First Post"),
		"newest post first",
	)
	assert.NotContains(t, index, "about")
}

func TestRenderPagesArchiveRespectsExistingIndex(t *testing.T) {
	f := newSiteFixture(t)
	f.page(t, "posts/index.md", "custom index")
	f.page(t, "posts/a.md", "a")

	require.NoError(t, f.renderer(RenderConfig{Archive: true}).Execute(context.Background()))
	assert.Equal(t, "H"+convert(t, "custom index")+"P"+"F", f.read(t, ArchiveIndex))
}

func TestPostTitle(t *testing.T) {
	testCases := map[string]string{
		"posts/hello-world.md":    "Hello World",
		"posts/rust_is_fun.md":    "Rust Is Fun",
		"posts/2017-03-one.md":    "2017 03 One",
		"posts/already Spaced.md": "Already Spaced",
	}
	for input, expected := range testCases {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, expected, PostTitle(input))
		})
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("site", "a.html"), OutputPath("site", "a.md"))
	assert.Equal(t, filepath.Join("site", "posts", "b.html"), OutputPath("site", "posts/b.md"))
	assert.Equal(t, filepath.Join("site", "x.y.html"), OutputPath("site", "x.y.MD"))
}

func TestMarkdownHighlighting(t *testing.T) {
	source := []byte("```go\npackage main\n```\n")

	plain, err := NewMarkdown("").Convert(source)
	require.NoError(t, err)
	assert.Contains(t, string(plain), `<code class="language-go">`)

	highlighted, err := NewMarkdown(DefaultHighlightStyle).Convert(source)
	require.NoError(t, err)
	assert.Contains(t, string(highlighted), "style=")
	assert.NotContains(t, string(highlighted), `<code class="language-go">`)
}

func TestZenburnHighlighting(t *testing.T) {
	highlighted, err := NewMarkdown(DefaultHighlightStyle).Convert([]byte("```go\n// note\n```\n"))
	require.NoError(t, err)
	assert.Contains(t, string(highlighted), "#3f3f3f")
	assert.Contains(t, string(highlighted), "#7f9f7f")
}

func TestHighlightStyleExists(t *testing.T) {
	assert.True(t, HighlightStyleExists(DefaultHighlightStyle))
	assert.True(t, HighlightStyleExists("monokai"))
	assert.False(t, HighlightStyleExists("no-such-style"))
}
