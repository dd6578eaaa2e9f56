package scm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/version"
)

// CreateVersion creates target from the version checked out at path.
//
// A dynamic version is a branch starting with an empty commit whose message
// carries the base-version attributes; a static version is an annotated tag
// whose message carries them. The new ref is pushed and the matching Event
// raised.
func (g *Git) CreateVersion(ctx context.Context, path string, target version.Version, attrs Attributes, switchAfter bool) error {
	if err := target.Validate(); err != nil {
		return err
	}
	cur, err := g.CurrentVersion(ctx, path)
	if err != nil {
		return err
	}
	ok, err := g.IsSync(ctx, path, AllChanges)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("module %s: %s at %s: %w", g.module, cur, path, ErrNotSync)
	}

	// The name must not be taken by a version of either type.
	if _, err := g.resolve(ctx, path, target); err == nil || errors.Is(err, ErrVersionKind) {
		return fmt.Errorf("module %s: %s: %w", g.module, target, ErrVersionExists)
	} else if !errors.Is(err, ErrVersionNotFound) {
		return err
	}

	head, err := g.output(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return err
	}
	base := version.BaseVersion{Version: target, VersionBase: cur, CommitID: head}
	msg := EncodeMessage(attrs.Merge(Attributes{
		AttrBaseVersion:       cur.String(),
		AttrBaseVersionCommit: head,
		AttrVersion:           target.String(),
	}), fmt.Sprintf("Create version %s from %s.", target, cur))

	var event Event
	if target.IsDynamic() {
		commit, err := g.output(ctx, path, "commit-tree", head+"^{tree}", "-p", head, "-m", msg)
		if err != nil {
			return fmt.Errorf("module %s: create %s: %w", g.module, target, err)
		}
		if _, err := g.git(ctx, path, "update-ref", "refs/heads/"+target.Name, commit, ""); err != nil {
			return err
		}
		if err := g.push(ctx, path, "refs/heads/"+target.Name); err != nil {
			return err
		}
		event = DynamicVersionCreated{Module: g.module, Base: base}
	} else {
		if _, err := g.git(ctx, path, "tag", "--annotate", "--cleanup=whitespace", "-m", msg, target.Name, head); err != nil {
			return fmt.Errorf("module %s: create %s: %w", g.module, target, err)
		}
		if err := g.push(ctx, path, "refs/tags/"+target.Name); err != nil {
			return err
		}
		event = StaticVersionCreated{Module: g.module, Base: base}
	}
	g.logger.Info("version created", "version", target.String(), "base", cur.String(), "commit", head)

	if switchAfter {
		if err := g.checkoutVersion(ctx, path, target); err != nil {
			return err
		}
		if err := g.relabel(ctx, path, target); err != nil {
			return err
		}
	}
	if g.onEvent != nil {
		g.onEvent(event)
	}
	return nil
}

// BaseVersion returns the base version recorded when v was created.
//
// For a dynamic version the first-parent history is walked until the
// creation commit of v is found; a creation commit of another version means
// v was not created with metadata. For a static version the tag message is
// read.
func (g *Git) BaseVersion(ctx context.Context, v version.Version) (*version.BaseVersion, error) {
	dir, err := g.queryDir(ctx)
	if err != nil {
		return nil, err
	}
	commit, err := g.resolve(ctx, dir, v)
	if err != nil {
		return nil, err
	}

	var attrs Attributes
	if v.IsStatic() {
		kind, err := g.output(ctx, dir, "cat-file", "-t", "refs/tags/"+v.Name)
		if err != nil {
			return nil, err
		}
		if kind != "tag" {
			return nil, nil
		}
		msg, err := g.output(ctx, dir, "for-each-ref", "--format=%(contents)", "refs/tags/"+v.Name)
		if err != nil {
			return nil, err
		}
		attrs, _ = DecodeMessage(msg)
	} else {
		commits, err := g.log(ctx, dir, []string{"--first-parent", commit}, 0)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			if c.Attributes.Has(AttrBaseVersion) {
				if c.Attributes[AttrVersion] == v.String() {
					attrs = c.Attributes
				}
				break
			}
		}
	}
	if !attrs.Has(AttrBaseVersion) {
		return nil, nil
	}
	baseOf, err := version.Parse(attrs[AttrBaseVersion])
	if err != nil {
		return nil, fmt.Errorf("module %s: %s: invalid %s attribute: %w", g.module, v, AttrBaseVersion, err)
	}
	return &version.BaseVersion{Version: v, VersionBase: baseOf, CommitID: attrs[AttrBaseVersionCommit]}, nil
}

// ListCommit enumerates the first-parent commits of v, newest first,
// stopping before the first commit that records a base version. For a
// static version this is the creation commit of the branch it was tagged on.
func (g *Git) ListCommit(ctx context.Context, v version.Version, opts CommitOptions) (CommitPage, error) {
	dir, err := g.queryDir(ctx)
	if err != nil {
		return CommitPage{}, err
	}
	commit, err := g.resolve(ctx, dir, v)
	if err != nil {
		return CommitPage{}, err
	}
	return g.listCommits(ctx, dir, []string{commit}, opts)
}

// ListCommitDiverge enumerates the first-parent commits of src missing from
// dest, newest first, stopping as ListCommit does.
func (g *Git) ListCommitDiverge(ctx context.Context, src, dest version.Version, opts CommitOptions) (CommitPage, error) {
	dir, err := g.queryDir(ctx)
	if err != nil {
		return CommitPage{}, err
	}
	srcCommit, err := g.resolve(ctx, dir, src)
	if err != nil {
		return CommitPage{}, err
	}
	destCommit, err := g.resolve(ctx, dir, dest)
	if err != nil {
		return CommitPage{}, err
	}
	return g.listCommits(ctx, dir, []string{destCommit + ".." + srcCommit}, opts)
}

func (g *Git) listCommits(ctx context.Context, dir string, revs []string, opts CommitOptions) (CommitPage, error) {
	skip := max(opts.Skip, 0)
	limit := 0
	if opts.MaxCount > 0 {
		limit = skip + opts.MaxCount + 1
	}
	// Skip counts commits above the stop commit only, so it cannot be
	// delegated to git log.
	commits, err := g.log(ctx, dir, append([]string{"--first-parent"}, revs...), limit)
	if err != nil {
		return CommitPage{}, err
	}

	var tags map[string][]version.Version
	if opts.StaticVersions {
		if tags, err = g.staticVersionsByCommit(ctx, dir); err != nil {
			return CommitPage{}, err
		}
	}

	page := CommitPage{Done: true}
	for _, c := range commits {
		if c.Attributes.Has(AttrBaseVersion) {
			break
		}
		if skip > 0 {
			skip--
			continue
		}
		if opts.MaxCount > 0 && len(page.Commits) == opts.MaxCount {
			page.Done = false
			break
		}
		if !opts.Message {
			c.Message = ""
		}
		if !opts.Attributes {
			c.Attributes = nil
		}
		if opts.StaticVersions {
			c.StaticVersions = tags[c.ID]
		}
		page.Commits = append(page.Commits, c)
	}
	return page, nil
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// log returns commits of revs in topological order, newest first, with
// message and attributes decoded.
func (g *Git) log(ctx context.Context, dir string, revs []string, maxCount int) ([]Commit, error) {
	args := []string{"log", "--topo-order", "--format=%H" + fieldSep + "%B" + recordSep}
	if maxCount > 0 {
		args = append(args, "--max-count="+strconv.Itoa(maxCount))
	}
	args = append(args, revs...)
	args = append(args, "--")
	res, err := g.git(ctx, dir, args...)
	if err != nil {
		return nil, err
	}

	var commits []Commit
	for _, rec := range strings.Split(res.Stdout, recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec == "" {
			continue
		}
		id, body, ok := strings.Cut(rec, fieldSep)
		if !ok {
			continue
		}
		attrs, text := DecodeMessage(strings.TrimRight(body, "\n"))
		commits = append(commits, Commit{ID: id, Message: text, Attributes: attrs})
	}
	return commits, nil
}
