package build

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
)

// PostsDir is the top-level source directory whose pages get the
// post-footer fragment.
const PostsDir = "posts"

// Fragments names the include files spliced around every rendered page.
// Head and PostFooter are optional; Header and Footer are required.
type Fragments struct {
	Head       string
	Header     string
	Footer     string
	PostFooter string
}

// RenderConfig holds the parameters of a RenderPages action.
type RenderConfig struct {
	// SourceRoot is the directory searched recursively for .md files.
	SourceRoot string
	// OutputRoot mirrors SourceRoot with .html files.
	OutputRoot string
	// Fragments are read fresh on every pass.
	Fragments Fragments
	// InlineStyles are stylesheet files appended to the head inside one
	// <style> element.
	InlineStyles []string
	// HighlightStyle is the chroma style for fenced code; empty disables it.
	HighlightStyle string
	// Archive generates posts/index.html listing every post.
	Archive bool
}

// PageRenderer is the RenderPages action.
type PageRenderer struct {
	cfg      RenderConfig
	markdown *Markdown
	guard    *OutputGuard
	logger   logging.Logger
}

// NewPageRenderer creates a RenderPages action. A nil guard gets a private
// one; pass a shared guard whenever another action writes the same output.
func NewPageRenderer(cfg RenderConfig, guard *OutputGuard, logger logging.Logger) *PageRenderer {
	if guard == nil {
		guard = NewOutputGuard()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &PageRenderer{
		cfg:      cfg,
		markdown: NewMarkdown(cfg.HighlightStyle),
		guard:    guard,
		logger:   logger.WithComponent("render"),
	}
}

// Name implements Action.
func (r *PageRenderer) Name() string { return "render_pages" }

// page is one markdown source scheduled for rendering.
type page struct {
	rel  string // slash separated, relative to SourceRoot
	path string
	post bool
}

// includes holds the fragment contents loaded for one pass.
type includes struct {
	head       []byte
	header     []byte
	footer     []byte
	postFooter []byte
}

// Execute renders every markdown page under SourceRoot into OutputRoot.
func (r *PageRenderer) Execute(ctx context.Context) error {
	op := logging.StartOperation(r.logger, r.Name())

	pages, err := r.collect(ctx)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	inc, err := r.loadIncludes(ctx, pages)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	unlock := r.guard.Lock(r.cfg.OutputRoot)
	defer unlock()

	written := 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			op.EndWithError(ctx, err, "written", written)
			return err
		}

		changed, err := r.renderPage(p, inc)
		if err != nil {
			op.EndWithError(ctx, err, "page", p.rel)
			return err
		}
		if changed {
			written++
		}
	}

	if r.cfg.Archive {
		changed, err := r.renderArchive(ctx, pages, inc)
		if err != nil {
			op.EndWithError(ctx, err)
			return err
		}
		if changed {
			written++
		}
	}

	op.End(ctx, "pages", len(pages), "written", written, "source", r.cfg.SourceRoot)

	return nil
}

// RenderDocument assembles one output document: head, header, the rendered
// content, the post-footer for posts, then the footer.
func RenderDocument(head, header, content, postFooter, footer []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(head) + len(header) + len(content) + len(postFooter) + len(footer))
	buf.Write(head)
	buf.Write(header)
	buf.Write(content)
	buf.Write(postFooter)
	buf.Write(footer)
	return buf.Bytes()
}

func (r *PageRenderer) collect(ctx context.Context) ([]page, error) {
	root := r.cfg.SourceRoot
	// The supervisor checks the root before starting. Losing it afterwards
	// (a checkout swapping the tree) only costs this pass.
	info, err := os.Stat(root)
	if err != nil {
		return nil, siteerrors.NewSourceUnavailableError(siteerrors.ErrCodeRootMissing, root, err)
	}
	if !info.IsDir() {
		return nil, siteerrors.NewSourceUnavailableError(siteerrors.ErrCodeRootNotDir, root, nil)
	}

	var pages []page
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return siteerrors.NewRenderError(path, walkErr)
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		pages = append(pages, page{
			rel:  rel,
			path: path,
			post: strings.HasPrefix(rel, PostsDir+"/"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].rel < pages[j].rel })

	return pages, nil
}

func (r *PageRenderer) loadIncludes(ctx context.Context, pages []page) (*includes, error) {
	frag := r.cfg.Fragments
	inc := &includes{}
	var err error

	if inc.header, err = readInclude(frag.Header); err != nil {
		return nil, err
	}
	if inc.footer, err = readInclude(frag.Footer); err != nil {
		return nil, err
	}
	if frag.Head != "" {
		if inc.head, err = readInclude(frag.Head); err != nil {
			return nil, err
		}
	}

	if frag.PostFooter != "" && hasPosts(pages) {
		if inc.postFooter, err = readInclude(frag.PostFooter); err != nil {
			return nil, err
		}
	}

	if len(r.cfg.InlineStyles) > 0 {
		styles, err := r.readInlineStyles(ctx)
		if err != nil {
			return nil, err
		}
		inc.head = append(inc.head, styles...)
	}

	return inc, nil
}

// readInlineStyles concatenates the configured stylesheets. A sheet that
// does not exist yet (nothing compiled so far) is left out.
func (r *PageRenderer) readInlineStyles(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<style>")
	for _, path := range r.cfg.InlineStyles {
		// The compiled stylesheet may be rewritten by a concurrent compile.
		unlock := r.guard.Lock(path)
		content, err := os.ReadFile(path)
		unlock()
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn(ctx, err, "Inline stylesheet not compiled yet, skipping", "path", path)
			continue
		}
		if err != nil {
			return nil, siteerrors.NewIncludeMissingError(path, err)
		}
		buf.Write(content)
	}
	buf.WriteString("</style>")
	return buf.Bytes(), nil
}

func (r *PageRenderer) renderPage(p page, inc *includes) (bool, error) {
	source, err := os.ReadFile(p.path)
	if err != nil {
		return false, siteerrors.NewRenderError(p.path, err)
	}

	content, err := r.markdown.Convert(source)
	if err != nil {
		return false, siteerrors.NewRenderError(p.path, err)
	}

	var postFooter []byte
	if p.post {
		postFooter = inc.postFooter
	}

	doc := RenderDocument(inc.head, inc.header, content, postFooter, inc.footer)
	out := OutputPath(r.cfg.OutputRoot, p.rel)

	changed, err := writeFileAtomic(out, doc)
	if err != nil {
		return false, siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write rendered page", err).WithPath(out)
	}

	return changed, nil
}

// OutputPath maps a slash-separated markdown path relative to the source
// root onto its .html location under outputRoot.
func OutputPath(outputRoot, rel string) string {
	trimmed := strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.Join(outputRoot, filepath.FromSlash(trimmed)+".html")
}

func readInclude(path string) ([]byte, error) {
	if path == "" {
		return nil, siteerrors.NewIncludeMissingError(path, os.ErrNotExist)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, siteerrors.NewIncludeMissingError(path, err)
	}
	return content, nil
}

func hasPosts(pages []page) bool {
	for _, p := range pages {
		if p.post {
			return true
		}
	}
	return false
}

func isMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
