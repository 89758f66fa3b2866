package pathresolver

// Resolved is the outcome of canonicalizing a path. It is immutable once
// produced and consumed once by report construction.
type Resolved struct {
	Path        string
	HopCount    int
	FinalExists bool
}

// HopFunc receives the unresolved path of every symlink traversed during
// resolution, in traversal order, as hops are discovered. Each hop is an
// observable access in its own right.
type HopFunc func(linkPath string)

// PathResolver canonicalizes a raw path against an anchor directory,
// reporting every intermediate symlink through the hop callback.
type PathResolver interface {
	Resolve(rawPath string, anchorDir string, hop HopFunc) (Resolved, error)
}
