package crawler

import (
	"sort"
	"strings"
)

// Languages maps lowercase language names and ISO codes to display names.
type Languages struct {
	Names map[string]string `mapstructure:"names"`
	Code2 map[string]string `mapstructure:"code2"`
	Code3 map[string]string `mapstructure:"code3"`
}

// DefaultLanguages returns the six official UN languages.
func DefaultLanguages() Languages {
	return Languages{
		Names: map[string]string{
			"arabic":  "Arabic",
			"chinese": "Chinese",
			"english": "English",
			"french":  "French",
			"russian": "Russian",
			"spanish": "Spanish",
		},
		Code2: map[string]string{
			"ar": "Arabic",
			"zh": "Chinese",
			"en": "English",
			"fr": "French",
			"ru": "Russian",
			"es": "Spanish",
		},
		Code3: map[string]string{
			"ara": "Arabic",
			"zho": "Chinese",
			"eng": "English",
			"fra": "French",
			"rus": "Russian",
			"spa": "Spanish",
		},
	}
}

// FormatLanguage maps a scraped language label such as "English",
// "2020 ASDR - EXECUTIVE SUMMARY (ENGLISH)", "(FRA)" or "es" to a display
// name. It returns "" when the label is unknown or ambiguous.
func FormatLanguage(label string, langs Languages) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return ""
	}
	if name, ok := langs.Names[label]; ok {
		return name
	}

	if found := matching(langs.Names, func(k string) bool { return strings.Contains(label, k) }); len(found) == 1 {
		k := found[0]
		if strings.Contains(label, "("+k+")") ||
			strings.Contains(label, k+" version") ||
			strings.Contains(label, "version "+k) ||
			strings.HasSuffix(label, k) {
			return langs.Names[k]
		}
	}

	if found := matching(langs.Code3, func(k string) bool { return strings.Contains(label, "("+k+")") }); len(found) == 1 {
		return langs.Code3[found[0]]
	}

	if found := matching(langs.Code2, func(k string) bool {
		return k == label || strings.Contains(label, "("+k+")")
	}); len(found) == 1 {
		return langs.Code2[found[0]]
	}
	return ""
}

// LanguageFromText returns the first known language name mentioned in text.
func LanguageFromText(text string, langs Languages) string {
	text = strings.ToLower(text)
	keys := matching(langs.Names, func(k string) bool { return strings.Contains(text, k) })
	if len(keys) == 0 {
		return ""
	}
	return langs.Names[keys[0]]
}

func matching(m map[string]string, pred func(string) bool) []string {
	var keys []string
	for k := range m {
		if pred(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
