package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// Members holds the concatenated hourly and daily member files of an archive.
type Members struct {
	Hourly []byte
	Daily  []byte
}

// Extract reads the hourly and daily members of the archive at path.
//
// Legacy tarballs bundle neighbouring months, so tar members must also carry
// the window's YYYYMM token. Zip archives hold one month and are matched on
// suffix alone. A window with no matching member yields empty slices.
func Extract(path string, w domain.SourceWindow) (Members, error) {
	kind, err := domain.KindFromFilename(path)
	if err != nil {
		return Members{}, err
	}
	var m Members
	switch kind {
	case domain.ArchiveTar:
		err = extractTar(path, w.YearMonth(), &m)
	case domain.ArchiveZip:
		err = extractZip(path, &m)
	}
	if err != nil {
		return Members{}, &domain.SourceError{Source: path, Err: err}
	}
	return m, nil
}

func memberSpan(name string) (hourly, daily bool) {
	return strings.HasSuffix(name, domain.HourlyMemberSuffix), strings.HasSuffix(name, domain.DailyMemberSuffix)
}

func extractTar(path, yearMonth string, m *Members) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var hourly, daily bytes.Buffer
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.Contains(hdr.Name, yearMonth) {
			continue
		}
		isHourly, isDaily := memberSpan(hdr.Name)
		switch {
		case isHourly:
			_, err = io.Copy(&hourly, tr)
		case isDaily:
			_, err = io.Copy(&daily, tr)
		}
		if err != nil {
			return fmt.Errorf("read member %s: %w", hdr.Name, err)
		}
	}
	m.Hourly, m.Daily = hourly.Bytes(), daily.Bytes()
	return nil
}

func extractZip(path string, m *Members) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	var hourly, daily bytes.Buffer
	for _, zf := range zr.File {
		isHourly, isDaily := memberSpan(zf.Name)
		var dst *bytes.Buffer
		switch {
		case isHourly:
			dst = &hourly
		case isDaily:
			dst = &daily
		default:
			continue
		}
		if err := copyZipMember(zf, dst); err != nil {
			return err
		}
	}
	m.Hourly, m.Daily = hourly.Bytes(), daily.Bytes()
	return nil
}

func copyZipMember(zf *zip.File, dst io.Writer) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", zf.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(dst, rc); err != nil {
		return fmt.Errorf("read member %s: %w", zf.Name, err)
	}
	return nil
}
