package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"QCLCD201408.zip", "application/zip"},
		{"200604.tar.gz", "application/gzip"},
		{"isd-history.csv", "application/octet-stream"},
		{"archive.tar", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contentType(tt.name))
		})
	}
}
