package git

import (
	"fmt"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repository is a read-only view of a repository's object graph, used for
// history queries that would be slow or awkward to script over the CLI:
// ahead/behind counts, merge bases, branch inventories and tree diffs.
// Mutating operations stay on GitService.
type Repository struct {
	repo *gogit.Repository
	path string
}

// BranchInfo describes one branch for listing purposes.
type BranchInfo struct {
	Name       string // Short name; remote branches keep their remote prefix ("origin/main")
	SHA        string
	IsRemote   bool
	IsCurrent  bool
	CommitTime time.Time
}

// OpenRepository opens the repository containing path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == gogit.ErrRepositoryNotExists {
			return nil, fmt.Errorf("%s: %w", path, ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return &Repository{repo: repo, path: path}, nil
}

// Path returns the path the repository was opened from.
func (r *Repository) Path() string { return r.path }

// resolveCommit resolves a revision (branch name, tag, or SHA) to a commit.
func (r *Repository) resolveCommit(rev string) (*object.Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("cannot load commit %s: %w", hash, err)
	}
	return commit, nil
}

// resolveTree resolves a revision to its tree. Accepts anything
// resolveCommit does plus raw tree ids. An empty revision means the
// empty tree (nil), which diffs as "nothing on this side".
func (r *Repository) resolveTree(rev string) (*object.Tree, error) {
	if rev == "" {
		return nil, nil
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", rev, err)
	}
	if commit, err := r.repo.CommitObject(*hash); err == nil {
		tree, err := commit.Tree()
		if err != nil {
			return nil, fmt.Errorf("cannot load tree of %s: %w", rev, err)
		}
		return tree, nil
	}
	tree, err := r.repo.TreeObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a commit nor a tree: %w", rev, err)
	}
	return tree, nil
}

// IsBranchNameValid reports whether name is acceptable as a local branch
// name, using the reference-name rules of the object layer.
func IsBranchNameValid(name string) bool {
	if name == "" {
		return false
	}
	return plumbing.NewBranchReferenceName(name).Validate() == nil
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repository) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// BranchSHA resolves a local branch name to its commit SHA.
func (r *Repository) BranchSHA(name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", fmt.Errorf("branch %s not found", name)
		}
		return "", err
	}
	return ref.Hash().String(), nil
}

// MergeBase returns the best common ancestor of two revisions.
func (r *Repository) MergeBase(a, b string) (string, error) {
	commitA, err := r.resolveCommit(a)
	if err != nil {
		return "", err
	}
	commitB, err := r.resolveCommit(b)
	if err != nil {
		return "", err
	}

	bases, err := commitA.MergeBase(commitB)
	if err != nil {
		return "", fmt.Errorf("merge-base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return "", fmt.Errorf("no common ancestor between %s and %s", a, b)
	}
	return bases[0].Hash.String(), nil
}

// AheadBehind counts how many commits local has that upstream lacks and
// vice versa, walking each side down to their merge base.
func (r *Repository) AheadBehind(local, upstream string) (ahead, behind int, err error) {
	localCommit, err := r.resolveCommit(local)
	if err != nil {
		return 0, 0, err
	}
	upstreamCommit, err := r.resolveCommit(upstream)
	if err != nil {
		return 0, 0, err
	}

	if localCommit.Hash == upstreamCommit.Hash {
		return 0, 0, nil
	}

	bases, err := localCommit.MergeBase(upstreamCommit)
	if err != nil {
		return 0, 0, fmt.Errorf("merge-base of %s and %s: %w", local, upstream, err)
	}

	stop := make([]plumbing.Hash, len(bases))
	for i, b := range bases {
		stop[i] = b.Hash
	}

	ahead, err = countCommits(localCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	behind, err = countCommits(upstreamCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// countCommits counts commits reachable from c, not descending past stop.
func countCommits(c *object.Commit, stop []plumbing.Hash) (int, error) {
	stopSet := make(map[plumbing.Hash]bool, len(stop))
	for _, h := range stop {
		stopSet[h] = true
	}
	if stopSet[c.Hash] {
		return 0, nil
	}

	count := 0
	iter := object.NewCommitPreorderIter(c, nil, stop)
	err := iter.ForEach(func(commit *object.Commit) error {
		if stopSet[commit.Hash] {
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListBranches returns local and remote branches. Remote HEAD pointers
// are excluded. The current branch sorts first, the rest by most recent
// commit, newest first; ties break on name for a stable order.
func (r *Repository) ListBranches() ([]BranchInfo, error) {
	var current plumbing.ReferenceName
	if head, err := r.repo.Head(); err == nil && head.Name().IsBranch() {
		current = head.Name()
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, err
	}

	var branches []BranchInfo
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		switch {
		case name.IsBranch():
			branches = append(branches, BranchInfo{
				Name:      name.Short(),
				SHA:       ref.Hash().String(),
				IsCurrent: name == current,
			})
		case name.IsRemote():
			short := name.Short()
			// Skip symbolic pointers like origin/HEAD.
			if ref.Type() != plumbing.HashReference {
				return nil
			}
			branches = append(branches, BranchInfo{
				Name:     short,
				SHA:      ref.Hash().String(),
				IsRemote: true,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range branches {
		commit, err := r.repo.CommitObject(plumbing.NewHash(branches[i].SHA))
		if err != nil {
			continue
		}
		branches[i].CommitTime = commit.Committer.When
	}

	sort.SliceStable(branches, func(i, j int) bool {
		if branches[i].IsCurrent != branches[j].IsCurrent {
			return branches[i].IsCurrent
		}
		if !branches[i].CommitTime.Equal(branches[j].CommitTime) {
			return branches[i].CommitTime.After(branches[j].CommitTime)
		}
		return branches[i].Name < branches[j].Name
	})

	return branches, nil
}

// CommitTime returns the committer timestamp of a revision.
func (r *Repository) CommitTime(rev string) (time.Time, error) {
	commit, err := r.resolveCommit(rev)
	if err != nil {
		return time.Time{}, err
	}
	return commit.Committer.When, nil
}
