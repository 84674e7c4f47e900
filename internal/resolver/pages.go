package resolver

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/conneroisu/bloxciting/internal/cache"
	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/renderer"
	"github.com/conneroisu/bloxciting/internal/validation"
)

// PagePrefix is the route of standalone documents.
const PagePrefix = "/pages"

// PageHandler serves documents wrapped into complete HTML pages, for
// crawlers and clients without the single-page application.
type PageHandler struct {
	resolver *Resolver
	cache    *cache.Cache
	logger   logging.Logger
}

// NewPageHandler creates a page handler sharing rv's cache and options.
func NewPageHandler(rv *Resolver) *PageHandler {
	return &PageHandler{
		resolver: rv,
		cache:    rv.cache,
		logger:   rv.logger.With("handler", "pages"),
	}
}

func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	rest, found := strings.CutPrefix(r.URL.Path, PagePrefix+"/")
	if !found || rest == "" || validation.EscapesRoot(rest) {
		http.NotFound(w, r)
		return
	}

	logical := entry.Normalize(rest) + h.resolver.opts.Extension
	e, ok := h.cache.Get(logical)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if NotModified(r.Header, e) {
		SetEntryHeaders(w.Header(), e)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	f, err := OpenArtifact(e)
	if err != nil {
		h.resolver.errs.Handle(r.Context(), err)
		if errors.HasCode(err, errors.ErrCodeArtifactChanged) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.logger.Error(r.Context(), err, "Reading artifact failed", "path", logical)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	title := e.Heading
	if title == "" {
		title = e.Title
	}
	page, err := renderer.RenderPage(r.Context(), renderer.PageData{
		Title:       title,
		Description: e.Description,
		Body:        string(body),
	})
	if err != nil {
		h.logger.Error(r.Context(), err, "Rendering page failed", "path", logical)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	SetEntryHeaders(w.Header(), e)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(page)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(page)
	}
}
