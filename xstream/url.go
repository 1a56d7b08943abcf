package xstream

import (
	"fmt"
	"net/url"
	"os"
)

// OpenURL creates a stream from a "file://" URL. Its ownership is always the
// caller's to manage (spec §4.5: "constructors that create an underlying
// stream from a URL... set the corresponding ownership flag"); this function
// only builds the stream, the xfer constructors set the flag.
//
// forWrite selects the sink file-mode from spec §6.4 (read-write, create,
// truncate, binary) versus a plain read-only open for a source.
func OpenURL(rawurl string, forWrite bool) (*FileStream, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("xstream: invalid URL %q: %w", rawurl, err)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return nil, fmt.Errorf("xstream: unsupported URL scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		path = rawurl
	}
	if forWrite {
		return NewFileFromPath(path, SinkFileFlags, 0o644), nil
	}
	return NewFileFromPath(path, os.O_RDONLY, 0), nil
}
