// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"io"
	"os"
)

// KeyLogFileEnv is the environment variable containing the path of the
// session-key log, following the NSS key log format convention.
const KeyLogFileEnv = "SSLKEYLOGFILE"

// OpenKeyLogFile opens the session-key log at path for appending.
//
// An empty path returns a writer discarding everything, so that the
// caller does not need to special case the missing configuration.
func OpenKeyLogFile(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	filep, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return filep, nil
}

// KeyLogFileFromEnv calls [OpenKeyLogFile] with the [KeyLogFileEnv] value.
func KeyLogFileFromEnv() (io.WriteCloser, error) {
	return OpenKeyLogFile(os.Getenv(KeyLogFileEnv))
}

// nopWriteCloser adds a no-op Close to an [io.Writer].
type nopWriteCloser struct {
	io.Writer
}

// Close implements [io.Closer].
func (nopWriteCloser) Close() error {
	return nil
}
