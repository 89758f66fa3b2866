package pathresolver

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsandbox/sandbox-agent/pkg/pathresolver"
)

// symlinkFs layers symlink support over an afero.MemMapFs for testing.
type symlinkFs struct {
	afero.Fs
	links map[string]string
}

type linkInfo struct {
	name string
}

func (l linkInfo) Name() string       { return l.name }
func (l linkInfo) Size() int64        { return 0 }
func (l linkInfo) Mode() os.FileMode  { return os.ModeSymlink }
func (l linkInfo) ModTime() time.Time { return time.Time{} }
func (l linkInfo) IsDir() bool        { return false }
func (l linkInfo) Sys() any           { return nil }

func (s *symlinkFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	if _, ok := s.links[name]; ok {
		return linkInfo{name: name}, true, nil
	}
	fi, err := s.Fs.Stat(name)
	return fi, true, err
}

func (s *symlinkFs) ReadlinkIfPossible(name string) (string, error) {
	if target, ok := s.links[name]; ok {
		return target, nil
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: os.ErrInvalid}
}

func newTestFs(t *testing.T, files []string, links map[string]string) *symlinkFs {
	t.Helper()
	mem := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(mem, f, []byte("x"), 0o644))
	}
	return &symlinkFs{Fs: mem, links: links}
}

func newTestResolver(t *testing.T, fs afero.Fs, limit int) *Resolver {
	t.Helper()
	r, err := NewResolver(fs, limit)
	require.NoError(t, err)
	return r
}

func TestResolve_NoSymlinks(t *testing.T) {
	fs := newTestFs(t, []string{"/a/b/file.txt"}, nil)
	r := newTestResolver(t, fs, 0)

	var hops []string
	res, err := r.Resolve("/a/b/file.txt", "/", func(p string) { hops = append(hops, p) })
	require.NoError(t, err)
	assert.Equal(t, "/a/b/file.txt", res.Path)
	assert.True(t, res.FinalExists)
	assert.Equal(t, 0, res.HopCount)
	assert.Empty(t, hops)
}

func TestResolve_ChainOfKHops(t *testing.T) {
	fs := newTestFs(t, []string{"/real"}, map[string]string{
		"/l1": "/l2",
		"/l2": "/l3",
		"/l3": "/real",
	})
	r := newTestResolver(t, fs, 0)

	var hops []string
	res, err := r.Resolve("/l1", "/", func(p string) { hops = append(hops, p) })
	require.NoError(t, err)
	assert.Equal(t, "/real", res.Path)
	assert.True(t, res.FinalExists)
	assert.Equal(t, 3, res.HopCount)
	assert.Equal(t, []string{"/l1", "/l2", "/l3"}, hops)
}

func TestResolve_RelativeTargetAgainstLinkParent(t *testing.T) {
	fs := newTestFs(t, []string{"/dir/sub/file"}, map[string]string{
		"/dir/link": "sub/file",
	})
	r := newTestResolver(t, fs, 0)

	var hops []string
	res, err := r.Resolve("/dir/link", "/", func(p string) { hops = append(hops, p) })
	require.NoError(t, err)
	assert.Equal(t, "/dir/sub/file", res.Path)
	assert.Equal(t, []string{"/dir/link"}, hops)
}

func TestResolve_DotDotTarget(t *testing.T) {
	fs := newTestFs(t, []string{"/other/file"}, map[string]string{
		"/dir/link": "../other/file",
	})
	// /dir must exist for the intermediate lstat.
	require.NoError(t, fs.Fs.MkdirAll("/dir", 0o755))
	r := newTestResolver(t, fs, 0)

	res, err := r.Resolve("/dir/link", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "/other/file", res.Path)
}

func TestResolve_CycleHitsHopLimit(t *testing.T) {
	fs := newTestFs(t, nil, map[string]string{
		"/a": "/b",
		"/b": "/a",
	})
	const limit = 4
	r := newTestResolver(t, fs, limit)

	var hops []string
	_, err := r.Resolve("/a", "/", func(p string) { hops = append(hops, p) })
	require.Error(t, err)
	assert.ErrorIs(t, err, pathresolver.ErrTooManySymlinkHops)

	var tooMany *pathresolver.TooManyLinksError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, limit, tooMany.Limit)
	// Exactly limit hops were reported before the failure.
	assert.Len(t, hops, limit)
}

func TestResolve_ChainWithinLimitSucceeds(t *testing.T) {
	links := make(map[string]string)
	for i := 1; i < 40; i++ {
		links[fmt.Sprintf("/l%d", i)] = fmt.Sprintf("/l%d", i+1)
	}
	links["/l40"] = "/real"
	fs := newTestFs(t, []string{"/real"}, links)
	r := newTestResolver(t, fs, 40)

	res, err := r.Resolve("/l1", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, 40, res.HopCount)
	assert.Equal(t, "/real", res.Path)
}

func TestResolve_BrokenChainReportsEarlierHops(t *testing.T) {
	fs := newTestFs(t, nil, map[string]string{
		"/symlink3": "/real2",
		"/real2":    "/nonexistentfile.txt",
	})
	r := newTestResolver(t, fs, 0)

	var hops []string
	_, err := r.Resolve("/symlink3", "/", func(p string) { hops = append(hops, p) })
	require.Error(t, err)
	assert.ErrorIs(t, err, pathresolver.ErrPathNotFound)
	assert.Contains(t, hops, "/symlink3")
}

func TestResolve_MissingFinalComponentSucceeds(t *testing.T) {
	fs := newTestFs(t, []string{"/dir/present"}, nil)
	r := newTestResolver(t, fs, 0)

	res, err := r.Resolve("/dir/absent.txt", "/", nil)
	require.NoError(t, err)
	assert.False(t, res.FinalExists)
	assert.Equal(t, "/dir/absent.txt", res.Path)
}

func TestResolve_MissingFinalThroughValidChain(t *testing.T) {
	fs := newTestFs(t, []string{"/target/present"}, map[string]string{
		"/dirlink": "/target",
	})
	r := newTestResolver(t, fs, 0)

	var hops []string
	res, err := r.Resolve("/dirlink/absent.txt", "/", func(p string) { hops = append(hops, p) })
	require.NoError(t, err)
	assert.False(t, res.FinalExists)
	assert.Equal(t, "/target/absent.txt", res.Path)
	// The traversed symlink is still an observable access.
	assert.Equal(t, []string{"/dirlink"}, hops)
}

func TestResolve_MissingIntermediateFails(t *testing.T) {
	fs := newTestFs(t, nil, nil)
	r := newTestResolver(t, fs, 0)

	_, err := r.Resolve("/absent/file", "/", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pathresolver.ErrPathNotFound)
}

func TestResolve_RelativePathUsesAnchor(t *testing.T) {
	fs := newTestFs(t, []string{"/work/b.txt"}, nil)
	r := newTestResolver(t, fs, 0)

	res, err := r.Resolve("b.txt", "/work", nil)
	require.NoError(t, err)
	assert.Equal(t, "/work/b.txt", res.Path)
	assert.True(t, res.FinalExists)
}

func TestResolve_WholePathIsSingleSymlink(t *testing.T) {
	fs := newTestFs(t, []string{"/real"}, map[string]string{
		"/only": "/real",
	})
	r := newTestResolver(t, fs, 0)

	var hops []string
	res, err := r.Resolve("/only", "/", func(p string) { hops = append(hops, p) })
	require.NoError(t, err)
	assert.Equal(t, "/real", res.Path)
	assert.Equal(t, []string{"/only"}, hops)
}

func TestNewResolver_RequiresLstat(t *testing.T) {
	// A bare MemMapFs has no lstat/readlink support.
	_, err := NewResolver(afero.NewMemMapFs(), 0)
	assert.Error(t, err)
}
