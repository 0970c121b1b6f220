// Package ftp retrieves the NOAA ISD station history list over anonymous FTP.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// Source reads one file from an FTP server.
type Source struct {
	addr    string
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSource creates a Source for path on the server at addr (host:port).
func NewSource(addr, path string, timeout time.Duration, logger *slog.Logger) *Source {
	return &Source{addr: addr, path: path, timeout: timeout, logger: logger}
}

// Fetch logs in anonymously and starts retrieving the file. The caller must
// close the returned reader, which also ends the FTP session.
func (s *Source) Fetch(ctx context.Context) (io.ReadCloser, error) {
	url := "ftp://" + s.addr + s.path
	conn, err := ftp.Dial(s.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(s.timeout))
	if err != nil {
		return nil, &domain.NetworkError{URL: url, Err: err}
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit() //nolint:errcheck // already failing
		return nil, &domain.NetworkError{URL: url, Err: fmt.Errorf("login: %w", err)}
	}
	resp, err := conn.Retr(s.path)
	if err != nil {
		conn.Quit() //nolint:errcheck // already failing
		return nil, &domain.NetworkError{URL: url, Err: fmt.Errorf("retr: %w", err)}
	}
	s.logger.Debug("ftp retrieval started", "url", url)
	return &session{ReadCloser: resp, conn: conn}, nil
}

type quitter interface {
	Quit() error
}

// session closes the data connection before quitting the control connection.
type session struct {
	io.ReadCloser
	conn quitter
}

func (s *session) Close() error {
	return errors.Join(s.ReadCloser.Close(), s.conn.Quit())
}
