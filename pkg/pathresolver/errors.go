package pathresolver

import (
	"errors"
	"fmt"
)

var (
	ErrTooManySymlinkHops = errors.New("too many symlink hops")
	ErrPathNotFound       = errors.New("path not found")
)

// TooManyLinksError reports a symlink chain exceeding the configured hop
// limit. Hops up to the limit were already delivered to the hop callback.
type TooManyLinksError struct {
	Path  string
	Limit int
}

func (e *TooManyLinksError) Error() string {
	return fmt.Sprintf("resolving %s: chain exceeds %d symlink hops", e.Path, e.Limit)
}

func (e *TooManyLinksError) Unwrap() error {
	return ErrTooManySymlinkHops
}

// NotFoundError reports a missing intermediate component. Hops observed
// before the failure point were already delivered to the hop callback.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("intermediate component does not exist: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return ErrPathNotFound
}
