// Package glossary holds fixed term translations that a translation run
// must respect, typically character and place names.
package glossary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
)

// Glossary maps a source-language term to its required translation.
type Glossary map[string]string

// Filename is the glossary file name for a language pair, keyed by base
// language codes, e.g. glossary.en-zh.json.
func Filename(sourceLang, targetLang string) string {
	return "glossary." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".json"
}

// Find walks up from dir and returns the closest glossary file for the
// language pair, or "" when none exists.
func Find(dir, sourceLang, targetLang string) string {
	name := Filename(sourceLang, targetLang)
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ForSubtitle loads the glossary that applies to a subtitle file. A missing
// glossary is not an error and yields nil.
func ForSubtitle(subtitlePath, sourceLang, targetLang string) (Glossary, error) {
	path := Find(filepath.Dir(subtitlePath), sourceLang, targetLang)
	if path == "" {
		return nil, nil
	}
	return Load(path)
}

func Load(path string) (Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Glossary
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid glossary %s: %w", path, err)
	}
	for term, translation := range g {
		if strings.TrimSpace(term) == "" || strings.TrimSpace(translation) == "" {
			delete(g, term)
		}
	}
	return g, nil
}

func Save(path string, g Glossary) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Match keeps only the terms that occur in at least one of texts. Matching
// is case-sensitive since glossary terms are mostly proper nouns.
func (g Glossary) Match(texts []string) Glossary {
	if len(g) == 0 {
		return nil
	}
	var matched Glossary
	for term, translation := range g {
		for _, text := range texts {
			if strings.Contains(text, term) {
				if matched == nil {
					matched = make(Glossary)
				}
				matched[term] = translation
				break
			}
		}
	}
	return matched
}

func baseCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}
