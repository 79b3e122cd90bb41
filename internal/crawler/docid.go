package crawler

import (
	"crypto/md5" //nolint:gosec // md5 is a fingerprint here, not a security primitive
	"encoding/hex"
	"strings"
)

const maxLanguageLen = 32

// HashMD5 returns the 32-character hex MD5 digest of data.
func HashMD5(data string) string {
	sum := md5.Sum([]byte(data)) //nolint:gosec // fingerprint only
	return hex.EncodeToString(sum[:])
}

// FormatFileName builds the "<ACRONYM-REGION>_<md5(title)>[_<LANG>]" stem of a
// document id.
func FormatFileName(acronym, region, title, lang string) string {
	orgLabel := strings.ReplaceAll(acronym+"-"+region, " ", "-")
	name := strings.ToUpper(orgLabel) + "_" + HashMD5(title)
	if lang = normalizeIDLanguage(lang); lang != "" {
		name += "_" + strings.ToUpper(lang)
	}
	return strings.TrimSpace(name)
}

// GenerateDocumentID returns the deterministic fingerprint of a document.
// Two links that only differ in query string or fragment map to the same id.
func GenerateDocumentID(acronym, region, title, lang, pdfLink string) string {
	return FormatFileName(acronym, region, title, lang) + "_" + HashMD5(linkStem(pdfLink))
}

func normalizeIDLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if len(lang) > maxLanguageLen {
		lang = HashMD5(lang)
	}
	return strings.NewReplacer("_", "-", " ", "-").Replace(lang)
}

func linkStem(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return strings.ReplaceAll(link, ".pdf", "")
}
