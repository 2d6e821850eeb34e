package build

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"path"
	"strings"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ArchiveIndex is the generated listing of every post, relative to the
// output root.
const ArchiveIndex = PostsDir + "/index.html"

// PostTitle derives a display title from a post's file name:
// "2017-03-hello_world.md" becomes "2017 03 Hello World".
func PostTitle(rel string) string {
	base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// renderArchive writes posts/index.html unless the site provides its own
// posts/index.md. Posts are listed newest file name first.
func (r *PageRenderer) renderArchive(ctx context.Context, pages []page, inc *includes) (bool, error) {
	var posts []page
	for _, p := range pages {
		if !p.post {
			continue
		}
		if p.rel == PostsDir+"/index.md" {
			r.logger.Debug(ctx, "Site provides its own posts index, skipping archive")
			return false, nil
		}
		posts = append(posts, p)
	}
	if len(posts) == 0 {
		return false, nil
	}

	var list bytes.Buffer
	list.WriteString("<ul class=\"archive\">\n")
	for i := len(posts) - 1; i >= 0; i-- {
		href := "/" + strings.TrimSuffix(posts[i].rel, path.Ext(posts[i].rel)) + ".html"
		fmt.Fprintf(&list, "<li><a href=\"%s\">%s</a></li>\n",
			html.EscapeString(href), html.EscapeString(PostTitle(posts[i].rel)))
	}
	list.WriteString("</ul>\n")

	doc := RenderDocument(inc.head, inc.header, list.Bytes(), nil, inc.footer)
	out := OutputPath(r.cfg.OutputRoot, PostsDir+"/index.md")

	changed, err := writeFileAtomic(out, doc)
	if err != nil {
		return false, siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write posts archive", err).WithPath(out)
	}
	return changed, nil
}
