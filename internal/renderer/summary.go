package renderer

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Summary is the heading and lead paragraph of a compiled document.
type Summary struct {
	Heading     string
	Description string
}

// Summarize extracts the text of the first <h1> and of the first <p> from a
// compiled fragment. The level badge inside numbered headings is skipped.
func Summarize(fragment string) Summary {
	var summary Summary

	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		target  *string
		depth   int
		skip    int
		collect strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return summary

		case html.StartTagToken:
			tok := z.Token()
			if target != nil {
				if voidElements[tok.DataAtom] {
					collect.WriteByte(' ')
					continue
				}
				depth++
				if tok.DataAtom == atom.Span && hasClass(tok, "header-level") {
					skip = depth
				}
				continue
			}
			switch {
			case tok.DataAtom == atom.H1 && summary.Heading == "":
				target = &summary.Heading
			case tok.DataAtom == atom.P && summary.Description == "":
				target = &summary.Description
			}
			depth = 0
			collect.Reset()

		case html.EndTagToken:
			if target == nil {
				continue
			}
			if depth == 0 {
				*target = strings.Join(strings.Fields(collect.String()), " ")
				target = nil
				if summary.Heading != "" && summary.Description != "" {
					return summary
				}
				continue
			}
			if skip == depth {
				skip = 0
			}
			depth--

		case html.TextToken:
			if target != nil && skip == 0 {
				collect.Write(z.Text())
			}
		}
	}
}

// voidElements never have an end tag.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Br: true, atom.Col: true, atom.Embed: true,
	atom.Hr: true, atom.Img: true, atom.Input: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true,
}

func hasClass(tok html.Token, class string) bool {
	for _, attr := range tok.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}
