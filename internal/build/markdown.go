package build

import (
	"bytes"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// DefaultHighlightStyle matches the zenburn sheet the site has always used.
const DefaultHighlightStyle = "zenburn"

// chroma does not ship zenburn; register it so it resolves like any
// bundled style.
func init() {
	styles.Register(chroma.MustNewStyle(DefaultHighlightStyle, chroma.StyleEntries{
		chroma.Background:        "#dcdccc bg:#3f3f3f",
		chroma.Error:             "#e37170 bg:#3d3535",
		chroma.Comment:           "italic #7f9f7f",
		chroma.CommentPreproc:    "bold #dfaf8f",
		chroma.Keyword:           "bold #f0dfaf",
		chroma.KeywordType:       "#dfdfbf",
		chroma.Name:              "#dcdccc",
		chroma.NameBuiltin:       "#efef8f",
		chroma.NameFunction:      "#efef8f",
		chroma.NameClass:         "#efef8f",
		chroma.NameTag:           "bold #e89393",
		chroma.NameAttribute:     "#efdcbc",
		chroma.LiteralString:     "#cc9393",
		chroma.LiteralNumber:     "#8cd0d3",
		chroma.Operator:          "#f0efd0",
		chroma.Punctuation:       "#f0efd0",
		chroma.GenericDeleted:    "#c3bf9f bg:#313c36",
		chroma.GenericInserted:   "#709080 bg:#313c36",
		chroma.GenericHeading:    "bold #efefef",
		chroma.GenericSubheading: "bold #efef8f",
		chroma.GenericEmph:       "italic",
		chroma.GenericStrong:     "bold",
	}))
}

// HighlightStyleExists reports whether chroma knows the named style.
func HighlightStyleExists(name string) bool {
	_, ok := styles.Registry[name]
	return ok
}

// Markdown converts markdown documents to HTML fragments.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown builds a GitHub-flavoured converter. Fenced code blocks are
// highlighted with inline styles using the named chroma style; an empty
// style disables highlighting.
func NewMarkdown(highlightStyle string) *Markdown {
	extensions := []goldmark.Extender{extension.GFM}
	if highlightStyle != "" {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(highlightStyle),
			highlighting.WithFormatOptions(chromahtml.WithClasses(false)),
		))
	}

	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extensions...),
			// Raw HTML in pages passes through untouched.
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Convert renders source to HTML.
func (m *Markdown) Convert(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
