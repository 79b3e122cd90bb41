package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashMD5(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", HashMD5("hello world"))
}

func TestGenerateDocumentIDDeterministic(t *testing.T) {
	t.Parallel()

	a := GenerateDocumentID("WHO", "Africa", "Annual report", "en", "https://who.int/a/report.pdf")
	b := GenerateDocumentID("WHO", "Africa", "Annual report", "en", "https://who.int/a/report.pdf")
	require.Equal(t, a, b)

	want := "WHO-AFRICA_" + HashMD5("Annual report") + "_EN_" + HashMD5("https://who.int/a/report")
	require.Equal(t, want, a)
}

func TestGenerateDocumentIDIgnoresQueryString(t *testing.T) {
	t.Parallel()

	base := GenerateDocumentID("UNDP", "Arab States", "T", "", "https://undp.org/f/x.pdf")
	withQuery := GenerateDocumentID("UNDP", "Arab States", "T", "", "https://undp.org/f/x.pdf?download=1")
	withFragment := GenerateDocumentID("UNDP", "Arab States", "T", "", "https://undp.org/f/x.pdf#page=2")
	otherPath := GenerateDocumentID("UNDP", "Arab States", "T", "", "https://undp.org/f/y.pdf")

	require.Equal(t, base, withQuery)
	require.Equal(t, base, withFragment)
	require.NotEqual(t, base, otherPath)
	require.True(t, strings.HasPrefix(base, "UNDP-ARAB-STATES_"))
}

func TestFormatFileNameLanguage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ILO-GLOBAL_"+HashMD5("t"), FormatFileName("ILO", "Global", "t", ""))
	require.Equal(t, "ILO-GLOBAL_"+HashMD5("t")+"_PT-BR", FormatFileName("ILO", "Global", "t", "pt_br"))
	require.Equal(t, "ILO-GLOBAL_"+HashMD5("t")+"_EN-GB", FormatFileName("ILO", "Global", "t", "en GB"))

	long := "2020 ASDR - EXECUTIVE SUMMARY IN THE ENGLISH LANGUAGE"
	require.Equal(t, "ILO-GLOBAL_"+HashMD5("t")+"_"+strings.ToUpper(HashMD5(long)),
		FormatFileName("ILO", "Global", "t", long))
}
