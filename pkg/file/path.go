package file

import (
	"path/filepath"
	"strings"
)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}
	return filepath.Join(dir, filename[:lastDot]+ext)
}

// LanguageSuffixed returns the sibling path tagged with a language code,
// e.g. ("show/ep1.srt", "zh") -> "show/ep1.zh.srt".
func LanguageSuffixed(path, lang string) string {
	if path == "" || lang == "" {
		return path
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".srt"
	}
	return ReplaceExt(path, "."+lang+ext)
}

// HasLanguageSuffix reports whether path already carries lang right before
// its extension.
func HasLanguageSuffix(path, lang string) bool {
	if lang == "" {
		return false
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(strings.ToLower(base), "."+strings.ToLower(lang))
}
