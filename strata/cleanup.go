package strata

import "io"

// closer returns a function that closes c, discarding the error.
// Use with defer for read-only handles where the close error carries
// no information.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
