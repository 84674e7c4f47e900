// Package entry defines the data model of the content cache: one Entry per
// tracked source document, pairing the source file's stat with its content
// hash and the compiled artifact written to the shadow directory.
//
// Entries are immutable once built. An update produces a new *Entry that
// replaces the old pointer in the cache, so readers holding a pointer always
// see one consistent snapshot.
package entry

import (
	"encoding/json"
	"os"
	"time"
)

// SourceFile mirrors the filesystem stat of a source document.
type SourceFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// CompiledArtifact is the rendered form of a source document in the shadow
// directory.
type CompiledArtifact struct {
	Path    string
	Size    int64
	ModTime time.Time
	// info identifies the exact file that was written, so a reader can tell
	// whether the file it opened still belongs to this snapshot.
	info os.FileInfo
}

// Matches reports whether fi describes the same file this artifact was built
// from. Artifacts are replaced by rename, so a newer write is a different file.
func (a CompiledArtifact) Matches(fi os.FileInfo) bool {
	if a.info == nil || fi == nil {
		return false
	}
	return os.SameFile(a.info, fi)
}

// NewArtifact builds an artifact record from the stat taken after writing.
func NewArtifact(path string, fi os.FileInfo) CompiledArtifact {
	return CompiledArtifact{
		Path:    path,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		info:    fi,
	}
}

// Entry is one tracked document.
type Entry struct {
	LogicalPath string
	Title       string
	Hash        string
	Source      SourceFile
	Artifact    CompiledArtifact
	// Heading and Description are extracted from the compiled output.
	Heading     string
	Description string
}

// LastModified is the source modification time used for conditional requests.
func (e *Entry) LastModified() time.Time {
	return e.Source.ModTime
}

type entryJSON struct {
	Title            string    `json:"title"`
	Path             string    `json:"path"`
	Size             int64     `json:"size"`
	LastModifiedDate time.Time `json:"lastModifiedDate"`
	Hash             string    `json:"hash"`
	Heading          string    `json:"heading,omitempty"`
	Description      string    `json:"description,omitempty"`
}

// MarshalJSON renders the listing form of an entry.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Title:            e.Title,
		Path:             e.LogicalPath,
		Size:             e.Source.Size,
		LastModifiedDate: e.Source.ModTime.UTC(),
		Hash:             e.Hash,
		Heading:          e.Heading,
		Description:      e.Description,
	})
}

// Builder accumulates the results of one compilation. Nothing is visible to
// readers until Build returns the finished Entry.
type Builder struct {
	logicalPath string
	title       string
	hash        string
	heading     string
	description string
	source      *SourceFile
	artifact    *CompiledArtifact
}

// NewBuilder starts an Entry for logicalPath. When prev is non-nil its title
// is carried forward; titles are fixed when an entry is first created.
func NewBuilder(logicalPath string, prev *Entry) *Builder {
	b := &Builder{logicalPath: logicalPath, title: TitleFromPath(logicalPath)}
	if prev != nil && prev.Title != "" {
		b.title = prev.Title
	}
	return b
}

func (b *Builder) SetHash(hash string) *Builder {
	b.hash = hash
	return b
}

func (b *Builder) SetSummary(heading, description string) *Builder {
	b.heading = heading
	b.description = description
	return b
}

func (b *Builder) SetSource(path string, fi os.FileInfo) *Builder {
	b.source = &SourceFile{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}
	return b
}

func (b *Builder) SetArtifact(path string, fi os.FileInfo) *Builder {
	a := NewArtifact(path, fi)
	b.artifact = &a
	return b
}

// Build returns the finished Entry, or ok=false when a part is missing.
func (b *Builder) Build() (*Entry, bool) {
	if b.hash == "" || b.source == nil || b.artifact == nil {
		return nil, false
	}
	return &Entry{
		LogicalPath: b.logicalPath,
		Title:       b.title,
		Hash:        b.hash,
		Source:      *b.source,
		Artifact:    *b.artifact,
		Heading:     b.heading,
		Description: b.description,
	}, true
}
