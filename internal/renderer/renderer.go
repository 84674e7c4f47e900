// Package renderer compiles markdown documents to HTML fragments and wraps
// them into standalone pages.
//
// Markdown is rendered with goldmark (GitHub flavoured). Headings receive
// hierarchical numeric ids ("1", "1.2", "1.2.1") and a visible level badge,
// and the first top-level heading is wrapped in a <header> carrying the
// author and last-modified line. Fenced code blocks keep their language as a
// class for client-side highlighting, and tables are wrapped for horizontal
// scrolling.
package renderer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// Author identifies who a document is attributed to.
type Author struct {
	Email    string
	Nickname string
}

// Options are passed to every render call.
type Options struct {
	Author       Author
	LastModified time.Time
}

// LastModifiedLayout is the timestamp format used in the document header.
const LastModifiedLayout = "2006-01-02 15:04:05"

// Markdown renders markdown text to an HTML fragment. It is safe for
// concurrent use; every call builds its own converter so heading counters
// never leak between documents.
type Markdown struct {
	extensions []goldmark.Extender
}

// NewMarkdown creates a markdown renderer with GitHub flavoured extensions.
func NewMarkdown() *Markdown {
	return &Markdown{
		extensions: []goldmark.Extender{extension.GFM, extension.Footnote},
	}
}

// Render converts text to HTML.
func (m *Markdown) Render(text string, opts Options) (string, error) {
	hr := &documentRenderer{opts: opts}
	md := goldmark.New(
		goldmark.WithExtensions(m.extensions...),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
			renderer.WithNodeRenderers(util.Prioritized(hr, 100)),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// documentRenderer overrides headings, fenced code and tables. It holds the
// per-document heading counters.
type documentRenderer struct {
	opts    Options
	levels  [6]int
	titled  bool
	inTitle bool
}

func (r *documentRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindHeading, r.renderHeading)
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(east.KindTable, r.renderTable)
}

// numbering returns the heading id and the visible badge for the heading
// just counted at level.
func (r *documentRenderer) numbering(level int) (id, badge string) {
	parts := make([]string, level)
	for i := 0; i < level; i++ {
		parts[i] = strconv.Itoa(r.levels[i])
	}
	id = strings.Join(parts, ".")
	if level > 1 {
		badge = strings.Join(parts[1:], ".")
	}
	return id, badge
}

func (r *documentRenderer) renderHeading(
	w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Heading)
	if !entering {
		_, _ = fmt.Fprintf(w, "</h%d>\n", n.Level)
		if r.inTitle {
			r.inTitle = false
			r.writeMeta(w)
		}
		return ast.WalkContinue, nil
	}

	r.levels[n.Level-1]++
	for i := n.Level; i < len(r.levels); i++ {
		r.levels[i] = 0
	}
	id, badge := r.numbering(n.Level)

	// Only the first top-level heading is the document title.
	if n.Level == 1 && !r.titled {
		r.titled = true
		r.inTitle = true
		_, _ = w.WriteString("<header>\n")
	}

	_, _ = fmt.Fprintf(w, `<h%d id="%s"`, n.Level, id)
	if n.Attributes() != nil {
		html.RenderAttributes(w, node, headingAttributeFilter)
	}
	_ = w.WriteByte('>')
	if badge != "" {
		_, _ = fmt.Fprintf(w, `<span class="header-level">%s</span>`, badge)
	}
	return ast.WalkContinue, nil
}

// headingAttributeFilter drops id so the generated numbering is the only one.
var headingAttributeFilter = util.NewBytesFilter(
	[]byte("class"), []byte("dir"), []byte("lang"), []byte("title"),
)

func (r *documentRenderer) writeMeta(w util.BufWriter) {
	_, _ = w.WriteString(`<section class="meta-info">` + "\n")
	_, _ = fmt.Fprintf(w, `<span class="author">AUTHOR: <a href="mailto:%s">%s</a></span>`+"\n",
		escape(r.opts.Author.Email), escape(r.opts.Author.Nickname))
	if !r.opts.LastModified.IsZero() {
		_, _ = fmt.Fprintf(w, `<span class="last-modified">LAST MODIFIED: %s</span>`+"\n",
			r.opts.LastModified.Format(LastModifiedLayout))
	}
	_, _ = w.WriteString("</section>\n</header>\n")
}

func (r *documentRenderer) renderFencedCodeBlock(
	w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	_, _ = w.WriteString(`<pre><code class="hljs`)
	if lang := n.Language(source); lang != nil {
		_ = w.WriteByte(' ')
		_, _ = w.Write(util.EscapeHTML(lang))
	}
	_, _ = w.WriteString(`">`)
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(line.Value(source)))
	}
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func (r *documentRenderer) renderTable(
	w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<div class="table-wrapper"><table`)
		if n.Attributes() != nil {
			html.RenderAttributes(w, n, extension.TableAttributeFilter)
		}
		_, _ = w.WriteString(">\n")
	} else {
		_, _ = w.WriteString("</table></div>\n")
	}
	return ast.WalkContinue, nil
}

func escape(s string) string {
	return string(util.EscapeHTML([]byte(s)))
}
