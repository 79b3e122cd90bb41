package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"glued urls keep last", "https://a.orghttps://b.org/x.pdf", "https://b.org/x.pdf"},
		{"truncated https", "https:/x.org/a", "https://x.org/a"},
		{"truncated http", "http:/x.org/a", "http://x.org/a"},
		{"no scheme untouched", "/files/report.pdf", "/files/report.pdf"},
		{"valid untouched", "https://who.int/docs/a.pdf", "https://who.int/docs/a.pdf"},
		{"mixed schemes", "http://a.orghttps://b.org/y", "https://b.org/y"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, FixURL(tc.in))
		})
	}
}

func TestAddBaseURLIfMissing(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.undp.org/files/a.pdf",
		AddBaseURLIfMissing("https://www.undp.org/", "/files/a.pdf"))
	require.Equal(t, "https://www.undp.org/files/a.pdf",
		AddBaseURLIfMissing("https://www.undp.org", "files/a.pdf"))
	require.Equal(t, "https://cdn.org/a.pdf",
		AddBaseURLIfMissing("https://www.undp.org", "https://cdn.org/a.pdf"))
	require.Equal(t, "https://b.org/x.pdf",
		AddBaseURLIfMissing("https://a.org", "https://a.orghttps://b.org/x.pdf"))
}

func TestIsValidURLAndBaseURL(t *testing.T) {
	t.Parallel()

	require.True(t, IsValidURL("https://example.org/path"))
	require.False(t, IsValidURL("/relative/path"))
	require.False(t, IsValidURL("example.org"))
	require.False(t, IsValidURL("http://%zz"))

	require.Equal(t, "https://example.org", BaseURL("https://example.org/a/b?c=d"))
	require.Empty(t, BaseURL("/a/b"))
}

func TestOrganizationDir(t *testing.T) {
	t.Parallel()

	require.Equal(t, "who/eastern-mediterranean", OrganizationDir("WHO", "Eastern Mediterranean"))
	require.Equal(t, "unicef/global", OrganizationDir(" UNICEF ", "Global"))
}
