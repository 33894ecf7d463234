package git

import (
	"context"
	"fmt"
	"strings"

	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/zhubert/vibegit-core/logger"
)

// DefaultInlineDiffLimit caps the size of a blob whose content is carried
// inline. A file whose blob exceeds it on either side keeps its stats but
// drops both content fields.
const DefaultInlineDiffLimit = 2 * 1024 * 1024

// FileChangeStatus classifies a file delta.
type FileChangeStatus string

const (
	FileAdded    FileChangeStatus = "added"
	FileDeleted  FileChangeStatus = "deleted"
	FileModified FileChangeStatus = "modified"
	FileRenamed  FileChangeStatus = "renamed"
)

// FileDiff is one file's change between two trees.
type FileDiff struct {
	OldPath string // Empty iff the file was added
	NewPath string // Empty iff the file was deleted
	Status  FileChangeStatus
	Binary  bool

	// Line stats are best-effort: when patch generation fails for a
	// file, HasStats is false and the delta is still reported.
	Additions int
	Deletions int
	HasStats  bool

	// Full blob text of each existing side. Both are empty when the
	// file is binary or when either side's blob exceeds the inline
	// limit; only the latter sets ContentOmitted.
	OldContent     string
	NewContent     string
	ContentOmitted bool
}

// Diff is the full comparison between two trees.
type Diff struct {
	Files     []FileDiff
	Additions int
	Deletions int
}

// DiffOptions controls diff generation.
type DiffOptions struct {
	// InlineLimit overrides DefaultInlineDiffLimit when positive.
	InlineLimit int64

	// PathFilter restricts the diff to the given paths. Each entry
	// matches a file exactly or a directory prefix. Empty means no
	// filtering.
	PathFilter []string
}

// matchesFilter reports whether a delta touches any filtered path.
func (o DiffOptions) matchesFilter(oldPath, newPath string) bool {
	if len(o.PathFilter) == 0 {
		return true
	}
	for _, f := range o.PathFilter {
		f = strings.TrimSuffix(f, "/")
		for _, p := range []string{oldPath, newPath} {
			if p == "" {
				continue
			}
			if p == f || strings.HasPrefix(p, f+"/") {
				return true
			}
		}
	}
	return false
}

// DiffRefs compares the trees of two revisions (branch names, SHAs, or
// raw tree ids). Renames are detected; blob content is inlined up to the
// limit, with binary files never inlined. An empty revision stands for
// the empty tree, so a root commit diffs as all-added.
func (r *Repository) DiffRefs(ctx context.Context, from, to string, opts DiffOptions) (*Diff, error) {
	fromTree, err := r.resolveTree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.resolveTree(to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff of %s..%s failed: %w", from, to, err)
	}

	limit := opts.InlineLimit
	if limit <= 0 {
		limit = DefaultInlineDiffLimit
	}

	log := logger.WithComponent("git")
	result := &Diff{}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			// Unreadable delta (corrupt or unsupported entry): skip it
			// rather than failing the whole diff.
			log.Warn("skipping unreadable diff entry", "from", change.From.Name, "to", change.To.Name, "error", err)
			continue
		}

		if !opts.matchesFilter(change.From.Name, change.To.Name) {
			continue
		}

		fd := FileDiff{}
		switch action {
		case merkletrie.Insert:
			fd.Status = FileAdded
			fd.NewPath = change.To.Name
		case merkletrie.Delete:
			fd.Status = FileDeleted
			fd.OldPath = change.From.Name
		case merkletrie.Modify:
			fd.OldPath = change.From.Name
			fd.NewPath = change.To.Name
			if change.From.Name != change.To.Name {
				fd.Status = FileRenamed
			} else {
				fd.Status = FileModified
			}
		}

		r.fillBlobContents(change, &fd, limit)
		fillLineStats(ctx, change, &fd)

		result.Files = append(result.Files, fd)
		result.Additions += fd.Additions
		result.Deletions += fd.Deletions
	}

	return result, nil
}

// fillBlobContents loads each existing side's blob and decides the
// content payload: binary on either side means no content at all;
// a non-binary blob over the limit on either side sets ContentOmitted
// and drops both sides. Blob read failures degrade to no content.
func (r *Repository) fillBlobContents(change *object.Change, fd *FileDiff, limit int64) {
	var oldFile, newFile *object.File
	if fd.Status != FileAdded {
		oldFile = r.changeSideFile(change.From)
	}
	if fd.Status != FileDeleted {
		newFile = r.changeSideFile(change.To)
	}

	for _, f := range []*object.File{oldFile, newFile} {
		if f == nil {
			continue
		}
		if bin, err := f.IsBinary(); err != nil || bin {
			fd.Binary = fd.Binary || bin
			return
		}
		if f.Blob.Size > limit {
			fd.ContentOmitted = true
		}
	}
	if fd.ContentOmitted {
		return
	}

	if oldFile != nil {
		if content, err := oldFile.Contents(); err == nil {
			fd.OldContent = content
		}
	}
	if newFile != nil {
		if content, err := newFile.Contents(); err == nil {
			fd.NewContent = content
		}
	}
}

// changeSideFile resolves one side of a delta to a file, or nil when the
// side has no blob.
func (r *Repository) changeSideFile(side object.ChangeEntry) *object.File {
	if side.Name == "" || side.TreeEntry.Hash.IsZero() {
		return nil
	}
	blob, err := object.GetBlob(r.repo.Storer, side.TreeEntry.Hash)
	if err != nil {
		return nil
	}
	return object.NewFile(side.Name, side.TreeEntry.Mode, blob)
}

// fillLineStats computes addition/deletion counts from a zero-context
// patch of the delta. Patch generation failures are tolerated: the delta
// keeps its paths and status but carries no stats.
func fillLineStats(ctx context.Context, change *object.Change, fd *FileDiff) {
	patch, err := change.PatchContext(ctx)
	if err != nil {
		logger.WithComponent("git").Debug("patch generation failed", "path", fd.NewPath, "error", err)
		return
	}

	filePatches := patch.FilePatches()
	if len(filePatches) == 0 {
		return
	}
	fp := filePatches[0]

	if fp.IsBinary() {
		fd.Binary = true
		return
	}

	fd.HasStats = true
	for _, chunk := range fp.Chunks() {
		lines := countLines(chunk.Content())
		switch chunk.Type() {
		case fdiff.Add:
			fd.Additions += lines
		case fdiff.Delete:
			fd.Deletions += lines
		}
	}
}

// countLines counts newline-terminated lines, treating a trailing
// fragment as a line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
