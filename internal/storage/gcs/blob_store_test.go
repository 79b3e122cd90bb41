package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "igo"})
	require.ErrorContains(t, err, "client")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "who/africa/DOC.pdf", "who/africa/DOC.pdf"},
		{"publications", "who/africa/DOC.pdf", "publications/who/africa/DOC.pdf"},
		{"raw", "/unicef/global/DOC.pdf", "raw/unicef/global/DOC.pdf"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, objectName(tt.prefix, tt.path))
	}
}
