package actions

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Checkout clones the repository of the event into the workspace and
// checks out the event's commit.
//
// Parameters: repository (clone url, default CloneBase/<event repo>), ref,
// sha, depth (default 1, 0 for full history), submodules, path (relative
// to the workspace).
type Checkout struct {
	CloneBase string
}

func (c Checkout) Run(ctx context.Context, inv Invocation, stdout, stderr io.Writer) (int, error) {
	url := inv.Params["repository"]
	if url == "" {
		url = buildRepoURL(c.CloneBase, inv.Event.Repo)
	}
	if url == "" {
		return -1, fmt.Errorf("%w: repository", ErrMissingParam)
	}

	depth, err := strconv.Atoi(inv.Param("depth", "1"))
	if err != nil || depth < 0 {
		return -1, fmt.Errorf("invalid depth %q", inv.Params["depth"])
	}

	dir := inv.Workspace
	if p := inv.Params["path"]; p != "" {
		if !filepath.IsLocal(p) {
			return -1, fmt.Errorf("path %q escapes the workspace", p)
		}
		// symlinks in the workspace must not lead out of it either
		dir, err = securejoin.SecureJoin(inv.Workspace, p)
		if err != nil {
			return -1, err
		}
	}

	ref := inv.Param("ref", inv.Event.Ref)
	sha := inv.Param("sha", inv.Event.Sha)

	opts := &git.CloneOptions{
		URL:      url,
		Depth:    depth,
		Progress: stderr,
	}
	if refName := plumbing.ReferenceName(ref); refName.IsBranch() || refName.IsTag() {
		opts.ReferenceName = refName
		opts.SingleBranch = true
	}
	if b, _ := strconv.ParseBool(inv.Params["submodules"]); b {
		opts.RecurseSubmodules = git.DefaultSubmoduleRecursionDepth
	}

	fmt.Fprintf(stdout, "cloning %s into %s\n", url, dir)

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		fmt.Fprintf(stderr, "clone failed: %v\n", err)
		return 1, nil
	}

	if sha != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return -1, err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
			fmt.Fprintf(stderr, "checkout of %s failed: %v\n", sha, err)
			return 1, nil
		}
	}

	head, err := repo.Head()
	if err != nil {
		return -1, err
	}
	fmt.Fprintf(stdout, "checked out %s\n", head.Hash())
	fmt.Fprintf(stdout, "::set-output sha=%s\n", head.Hash())

	return 0, nil
}

// buildRepoURL joins the clone base with the event's repository, e.g.
// https://tangled.sh + did:plc:foo/repo.
func buildRepoURL(base, repo string) string {
	if repo == "" || base == "" {
		return ""
	}

	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(repo, "/")
}

