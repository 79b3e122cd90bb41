package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatLanguage(t *testing.T) {
	t.Parallel()

	langs := DefaultLanguages()
	cases := []struct {
		in   string
		want string
	}{
		{"English", "English"},
		{"  FRENCH ", "French"},
		{"2020 ASDR - EXECUTIVE SUMMARY (ENGLISH)", "English"},
		{"Spanish version", "Spanish"},
		{"version arabic", "Arabic"},
		{"Report in Russian", "Russian"},
		{"Summary (FRA)", "French"},
		{"es", "Spanish"},
		{"Resumen (es)", "Spanish"},
		{"English and French", ""},
		{"englishman notes", ""},
		{"", ""},
		{"Klingon", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatLanguage(tc.in, langs), "input %q", tc.in)
	}
}

func TestLanguageFromText(t *testing.T) {
	t.Parallel()

	langs := DefaultLanguages()
	require.Equal(t, "Chinese", LanguageFromText("Download the Chinese edition", langs))
	require.Empty(t, LanguageFromText("no language here", langs))
}
