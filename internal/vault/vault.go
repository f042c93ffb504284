// Package vault reads notes from a directory tree. Note ids are
// slash-separated paths relative to the vault root.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Default patterns used when Options leaves them empty.
var (
	DefaultInclude = []string{"**/*.md"}
	DefaultExclude = []string{".obsidian/**", ".trash/**", ".git/**"}

	attachmentPatterns = []string{"**/*.pdf", "**/*.xlsx"}
)

// Options configures a Vault.
type Options struct {
	Root        string
	Include     []string
	Exclude     []string
	Attachments bool
}

// Vault is a note source over a directory.
type Vault struct {
	root     string
	includes []string
	excludes []string
	logger   *zap.Logger
}

// New opens the vault at opts.Root, which must be an existing directory.
// logger may be nil.
func New(opts Options, logger *zap.Logger) (*Vault, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", root)
	}

	includes := opts.Include
	if len(includes) == 0 {
		includes = DefaultInclude
	}
	includes = append([]string(nil), includes...)
	if opts.Attachments {
		includes = append(includes, attachmentPatterns...)
	}
	excludes := opts.Exclude
	if excludes == nil {
		excludes = DefaultExclude
	}
	for _, p := range append(append([]string(nil), includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid vault pattern: %q", p)
		}
	}

	return &Vault{
		root:     root,
		includes: includes,
		excludes: append([]string(nil), excludes...),
		logger:   logger,
	}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string { return v.root }

// ListDocumentIDs walks the vault and returns the ids of all matching notes, sorted.
func (v *Vault) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		id := filepath.ToSlash(rel)
		if d.IsDir() {
			if v.ExcludesDir(id) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.Contains(id) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Contains reports whether id names a note this vault indexes, based on the
// include and exclude patterns only.
func (v *Vault) Contains(id string) bool {
	if id == "" || !fs.ValidPath(id) {
		return false
	}
	return v.included(id) && !v.excluded(id)
}

// ExcludesDir reports whether the directory id is skipped entirely.
func (v *Vault) ExcludesDir(id string) bool {
	return v.excluded(id) || v.excluded(id+"/")
}

func (v *Vault) included(id string) bool {
	for _, pattern := range v.includes {
		if matched, err := doublestar.Match(pattern, id); err == nil && matched {
			return true
		}
	}
	return false
}

func (v *Vault) excluded(id string) bool {
	for _, pattern := range v.excludes {
		if matched, err := doublestar.Match(pattern, id); err == nil && matched {
			return true
		}
	}
	return false
}

// IDForPath converts a filesystem path to a note id. It reports false for
// paths outside the vault.
func (v *Vault) IDForPath(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// PathForID returns the filesystem path of id. Ids escaping the root are rejected.
func (v *Vault) PathForID(id string) (string, error) {
	if !fs.ValidPath(id) || id == "." {
		return "", fmt.Errorf("invalid note id: %q", id)
	}
	return filepath.Join(v.root, filepath.FromSlash(id)), nil
}

// Title returns the note title: the file name without its extension.
func Title(id string) string {
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// GetDocumentText returns "title\n\nbody" for id, where body is the cleaned
// note text. It reports false when the note no longer exists.
func (v *Vault) GetDocumentText(ctx context.Context, id string) (string, bool, error) {
	body, ok, err := v.body(ctx, id)
	if err != nil || !ok {
		return "", ok, err
	}
	return Title(id) + "\n\n" + body, true, nil
}

// IsNoteEmpty reports whether the note body is empty after cleaning. A
// missing note counts as empty.
func (v *Vault) IsNoteEmpty(ctx context.Context, id string) (bool, error) {
	body, ok, err := v.body(ctx, id)
	if err != nil {
		return false, err
	}
	return !ok || strings.TrimSpace(body) == "", nil
}

func (v *Vault) body(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p, err := v.PathForID(id)
	if err != nil {
		return "", false, err
	}
	content, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read note %s: %w", id, err)
	}
	body, err := extractBody(content, strings.ToLower(path.Ext(id)))
	if err != nil {
		if v.logger != nil {
			v.logger.Warn("Failed to extract note text", zap.String("id", id), zap.Error(err))
		}
		return "", false, fmt.Errorf("failed to extract %s: %w", id, err)
	}
	return body, true, nil
}
