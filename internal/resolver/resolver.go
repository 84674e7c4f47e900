// Package resolver answers HTTP requests for compiled documents and category
// listings out of the content cache.
//
// A request path below the API prefix names either a document (the
// document extension is appended for the lookup) or a directory under the
// watched root. Documents honour If-None-Match and If-Modified-Since and are
// streamed from the shadow directory; directories produce a JSON listing of
// their direct child documents and subdirectory names.
package resolver

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/bloxciting/internal/cache"
	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/validation"
)

// DefaultPrefix is the API prefix stripped from request paths.
const DefaultPrefix = "/api/v1/blogs"

// CacheControl forces clients to revalidate every document.
const CacheControl = "max-age=0, no-cache, must-revalidate, private"

// Options configure a Resolver.
type Options struct {
	// Prefix is stripped from request paths, DefaultPrefix when empty.
	Prefix        string
	Extension     string
	IndexDocument string
	// Ignore lists directories under the root that are never listed, such
	// as the shadow output directory.
	Ignore []string
	// MaxRetries bounds how often a lookup is repeated when the artifact on
	// disk no longer matches the cached entry.
	MaxRetries int
}

// Resolver serves documents and listings. It only reads the cache and the
// filesystem and is safe for concurrent use.
type Resolver struct {
	cache  *cache.Cache
	root   string
	opts   Options
	ignore []string
	logger logging.Logger
	errs   *errors.ErrorHandler
}

// Listing is the body of a category response.
type Listing struct {
	Blogs      []*entry.Entry `json:"blogs"`
	Categories []string       `json:"categories"`
}

// Result is the outcome of resolving one request. Callers must Close it.
type Result struct {
	Status  int
	Entry   *entry.Entry
	Listing *Listing
	Err     error

	body io.ReadCloser
}

// Body returns the artifact stream of a 200 document result, nil otherwise.
func (res *Result) Body() io.Reader {
	if res.body == nil {
		return nil
	}
	return res.body
}

// Close releases the artifact stream, if any.
func (res *Result) Close() error {
	if res.body == nil {
		return nil
	}
	err := res.body.Close()
	res.body = nil
	return err
}

// New creates a resolver over c for documents under root.
func New(c *cache.Cache, root string, opts Options, logger logging.Logger) *Resolver {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Extension == "" {
		opts.Extension = ".md"
	}
	if opts.IndexDocument == "" {
		opts.IndexDocument = "index" + opts.Extension
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	ignore := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			ignore = append(ignore, abs)
		}
	}

	logger = logger.WithComponent("resolver")
	return &Resolver{
		cache:  c,
		root:   root,
		opts:   opts,
		ignore: ignore,
		logger: logger,
		errs:   errors.NewErrorHandler(logger),
	}
}

// Prefix returns the API prefix this resolver strips.
func (rv *Resolver) Prefix() string {
	return rv.opts.Prefix
}

// Name extracts the logical name from a request path. ok is false when the
// path is not below the prefix.
func (rv *Resolver) Name(requestPath string) (name string, ok bool) {
	rest, found := strings.CutPrefix(requestPath, rv.opts.Prefix)
	if !found {
		return "", false
	}
	if rest != "" && !strings.HasPrefix(rest, "/") {
		return "", false
	}
	return strings.TrimPrefix(rest, "/"), true
}

// Resolve maps a request to a Result.
func (rv *Resolver) Resolve(r *http.Request) *Result {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return &Result{Status: http.StatusMethodNotAllowed}
	}

	name, ok := rv.Name(r.URL.Path)
	if !ok {
		return &Result{Status: http.StatusNotFound}
	}
	if validation.EscapesRoot(name) {
		return &Result{
			Status: http.StatusNotFound,
			Err:    errors.NewResolveError(errors.ErrCodePathTraversal, name, nil),
		}
	}

	if name != "" {
		if res := rv.document(r, entry.Normalize(name)+rv.opts.Extension); res != nil {
			return res
		}
	}
	return rv.category(entry.Normalize(name))
}

// document returns nil when no entry exists so the name can be tried as a
// category.
func (rv *Resolver) document(r *http.Request, logical string) *Result {
	e, ok := rv.cache.Get(logical)
	if !ok {
		return nil
	}

	for attempt := 0; ; attempt++ {
		if NotModified(r.Header, e) {
			return &Result{Status: http.StatusNotModified, Entry: e}
		}
		if r.Method == http.MethodHead {
			return &Result{Status: http.StatusOK, Entry: e}
		}

		f, err := OpenArtifact(e)
		switch {
		case err == nil:
			return &Result{Status: http.StatusOK, Entry: e, body: f}
		case !errors.HasCode(err, errors.ErrCodeArtifactChanged):
			// Deleted between the lookup and the open.
			return &Result{Status: http.StatusNotFound, Err: err}
		case attempt >= rv.opts.MaxRetries:
			return &Result{Status: http.StatusServiceUnavailable, Entry: e, Err: err}
		}

		// The artifact was replaced after the snapshot was taken; read the
		// cache again to pick up the entry describing the new file.
		if e, ok = rv.cache.Get(logical); !ok {
			return &Result{Status: http.StatusNotFound}
		}
	}
}

// OpenArtifact opens the compiled artifact of e and verifies that it is the
// exact file e was built from.
func OpenArtifact(e *entry.Entry) (*os.File, error) {
	f, err := os.Open(e.Artifact.Path)
	if err != nil {
		return nil, errors.NewResolveError(errors.ErrCodeNotFound, e.LogicalPath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewResolveError(errors.ErrCodeNotFound, e.LogicalPath, err)
	}
	if !e.Artifact.Matches(fi) {
		f.Close()
		return nil, errors.NewResolveError(errors.ErrCodeArtifactChanged, e.LogicalPath, nil)
	}
	return f, nil
}

func (rv *Resolver) category(dirLogical string) *Result {
	if dirLogical != "" && entry.IsHidden(dirLogical) {
		return &Result{Status: http.StatusNotFound}
	}
	dirPath := entry.SourcePath(rv.root, dirLogical)
	if rv.ignored(dirPath) {
		return &Result{Status: http.StatusNotFound}
	}

	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		return &Result{Status: http.StatusNotFound}
	}

	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return &Result{
			Status: http.StatusNotFound,
			Err:    errors.NewResolveError(errors.ErrCodeReadFailed, dirLogical, err),
		}
	}

	categories := make([]string, 0)
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		child := filepath.Join(dirPath, name)
		if rv.ignored(child) {
			continue
		}
		// Stat follows symbolic links to directories.
		if fi, err := os.Stat(child); err == nil && fi.IsDir() {
			categories = append(categories, entry.Normalize(name))
		}
	}

	return &Result{
		Status: http.StatusOK,
		Listing: &Listing{
			Blogs:      rv.cache.ListUnder(dirLogical, rv.opts.IndexDocument),
			Categories: categories,
		},
	}
}

func (rv *Resolver) ignored(path string) bool {
	for _, dir := range rv.ignore {
		if validation.Within(dir, path) {
			return true
		}
	}
	return false
}

// NotModified applies the conditional request rules: an exact If-None-Match
// match on the content hash, otherwise an If-Modified-Since that is not
// older than the entry's modification time at one-second resolution.
func NotModified(h http.Header, e *entry.Entry) bool {
	if inm := h.Get("If-None-Match"); inm != "" && inm == e.Hash {
		return true
	}
	ims := h.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !e.LastModified().Truncate(time.Second).After(t)
}

// SetEntryHeaders sets the validators and caching headers of a document.
func SetEntryHeaders(h http.Header, e *entry.Entry) {
	h.Set("ETag", e.Hash)
	h.Set("Last-Modified", e.LastModified().UTC().Format(http.TimeFormat))
	h.Set("Cache-Control", CacheControl)
}

// ServeHTTP implements http.Handler.
func (rv *Resolver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := rv.Resolve(r)
	defer res.Close()

	if res.Err != nil {
		rv.errs.Handle(r.Context(), res.Err)
	}
	rv.logger.Debug(r.Context(), "Resolved request", "path", r.URL.Path, "status", res.Status)

	switch {
	case res.Status == http.StatusMethodNotAllowed:
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(res.Status), res.Status)

	case res.Status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(res.Status), res.Status)

	case res.Status == http.StatusNotModified:
		SetEntryHeaders(w.Header(), res.Entry)
		w.WriteHeader(http.StatusNotModified)

	case res.Status == http.StatusOK && res.Entry != nil:
		SetEntryHeaders(w.Header(), res.Entry)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.FormatInt(res.Entry.Artifact.Size, 10))
		w.WriteHeader(http.StatusOK)
		if body := res.Body(); body != nil {
			if _, err := io.Copy(w, body); err != nil {
				rv.logger.Warn(r.Context(), err, "Streaming artifact failed", "path", res.Entry.LogicalPath)
			}
		}

	case res.Status == http.StatusOK && res.Listing != nil:
		data, err := json.Marshal(res.Listing)
		if err != nil {
			rv.logger.Error(r.Context(), err, "Encoding listing failed", "path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(data)
		}

	default:
		http.NotFound(w, r)
	}
}
