package pathresolver

import (
	"fmt"
	"os"
	"strings"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/spf13/afero"

	"github.com/buildsandbox/sandbox-agent/pkg/pathbuf"
	"github.com/buildsandbox/sandbox-agent/pkg/pathresolver"
)

// DefaultHopLimit bounds symlink chains for cycle protection.
const DefaultHopLimit = 40

var _ pathresolver.PathResolver = (*Resolver)(nil)

// Resolver canonicalizes paths over an injected filesystem. The filesystem
// must support lstat and readlink (afero.OsFs does).
type Resolver struct {
	fs       afero.Fs
	lstater  afero.Lstater
	linker   afero.LinkReader
	hopLimit int
}

// component is one pending path segment. fromLink marks segments substituted
// from a symlink target: a missing fromLink segment is a broken chain, not a
// tolerated missing final component.
type component struct {
	name     string
	fromLink bool
}

// NewResolver builds a Resolver over fs. hopLimit <= 0 selects
// DefaultHopLimit.
func NewResolver(fs afero.Fs, hopLimit int) (*Resolver, error) {
	lstater, ok := fs.(afero.Lstater)
	if !ok {
		return nil, fmt.Errorf("filesystem %s does not support lstat", fs.Name())
	}
	linker, ok := fs.(afero.LinkReader)
	if !ok {
		return nil, fmt.Errorf("filesystem %s does not support readlink", fs.Name())
	}
	if hopLimit <= 0 {
		hopLimit = DefaultHopLimit
	}
	return &Resolver{fs: fs, lstater: lstater, linker: linker, hopLimit: hopLimit}, nil
}

// Resolve walks rawPath component by component, substituting symlink targets
// as they are encountered. Every symlink is handed to hop with its
// unresolved path before the substitution, so a failed resolution still
// reports the hops observed up to the failure point.
func (r *Resolver) Resolve(rawPath string, anchorDir string, hop pathresolver.HopFunc) (pathresolver.Resolved, error) {
	if hop == nil {
		hop = func(string) {}
	}

	pending := make([]component, 0, 16)
	if !strings.HasPrefix(rawPath, "/") {
		pending = appendComponents(pending, anchorDir, false)
	}
	pending = appendComponents(pending, rawPath, false)

	resolved := pathbuf.New()
	if err := resolved.Append("/"); err != nil {
		return pathresolver.Resolved{}, err
	}

	hops := 0
	for len(pending) > 0 {
		comp := pending[0]
		pending = pending[1:]

		switch comp.name {
		case ".":
			continue
		case "..":
			truncateToParent(resolved)
			continue
		}

		mark := resolved.Len()
		if err := resolved.AppendSeparator(comp.name); err != nil {
			return pathresolver.Resolved{}, err
		}
		candidate := resolved.Path()

		fi, _, err := r.lstater.LstatIfPossible(candidate)
		if err != nil {
			if !os.IsNotExist(err) {
				return pathresolver.Resolved{}, fmt.Errorf("lstat %s: %w", candidate, err)
			}
			if len(pending) == 0 && !comp.fromLink {
				// The final component of the raw path is allowed to be
				// missing; every hop on the way here was already reported.
				return pathresolver.Resolved{Path: candidate, HopCount: hops, FinalExists: false}, nil
			}
			return pathresolver.Resolved{}, &pathresolver.NotFoundError{Path: candidate}
		}

		if fi.Mode()&os.ModeSymlink == 0 {
			continue
		}

		if hops == r.hopLimit {
			return pathresolver.Resolved{}, &pathresolver.TooManyLinksError{Path: candidate, Limit: r.hopLimit}
		}
		hops++
		hop(candidate)

		target, err := r.linker.ReadlinkIfPossible(candidate)
		if err != nil {
			return pathresolver.Resolved{}, fmt.Errorf("readlink %s: %w", candidate, err)
		}
		logger.L().Debug("symlink hop",
			helpers.String("link", candidate),
			helpers.String("target", target))

		if strings.HasPrefix(target, "/") {
			// Absolute target restarts resolution from the root.
			resolved.Reset()
			if err := resolved.Append("/"); err != nil {
				return pathresolver.Resolved{}, err
			}
		} else {
			// Relative target resolves against the symlink's parent.
			resolved.Truncate(mark)
		}
		pending = prependComponents(pending, target)
	}

	return pathresolver.Resolved{Path: resolved.Path(), HopCount: hops, FinalExists: true}, nil
}

func appendComponents(dst []component, path string, fromLink bool) []component {
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			dst = append(dst, component{name: c, fromLink: fromLink})
		}
	}
	return dst
}

func prependComponents(pending []component, target string) []component {
	head := appendComponents(make([]component, 0, 8), target, true)
	return append(head, pending...)
}

// truncateToParent drops the last component, never climbing above the root.
func truncateToParent(b *pathbuf.Buffer) {
	bytes := b.Bytes()
	for i := len(bytes) - 1; i > 0; i-- {
		if bytes[i] == '/' {
			b.Truncate(i)
			return
		}
	}
	b.Truncate(1)
}
