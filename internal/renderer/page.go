package renderer

import (
	"bytes"
	"context"
	"fmt"
)

//go:generate templ generate -f page.templ

// PageData is the content of a standalone document.
type PageData struct {
	Title       string
	Description string
	// Body is a compiled fragment and is written without escaping.
	Body string
}

// RenderPage renders Page into a byte slice.
func RenderPage(ctx context.Context, data PageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := Page(data).Render(ctx, &buf); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return buf.Bytes(), nil
}
