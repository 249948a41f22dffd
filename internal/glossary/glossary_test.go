package glossary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		source, target string
		want           string
	}{
		{"en", "zh", "glossary.en-zh.json"},
		{"zh-CN", "en-US", "glossary.zh-en.json"},
		{"en", "zh-Hans", "glossary.en-zh.json"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.source, tt.target))
		})
	}
}

func TestFind_ClosestAncestorWins(t *testing.T) {
	root := t.TempDir()
	season := filepath.Join(root, "Season 1")
	require.NoError(t, os.MkdirAll(season, 0o755))

	rootGlossary := filepath.Join(root, "glossary.en-zh.json")
	require.NoError(t, os.WriteFile(rootGlossary, []byte(`{"a":"b"}`), 0o644))
	assert.Equal(t, rootGlossary, Find(season, "en", "zh"))

	seasonGlossary := filepath.Join(season, "glossary.en-zh.json")
	require.NoError(t, os.WriteFile(seasonGlossary, []byte(`{"c":"d"}`), 0o644))
	assert.Equal(t, seasonGlossary, Find(season, "en", "zh"))

	assert.Empty(t, Find(season, "en", "ja"))
}

func TestForSubtitle(t *testing.T) {
	dir := t.TempDir()
	srt := filepath.Join(dir, "ep1.srt")

	g, err := ForSubtitle(srt, "en", "zh")
	require.NoError(t, err)
	assert.Nil(t, g)

	require.NoError(t, Save(filepath.Join(dir, Filename("en", "zh")), Glossary{
		"Momo Ayase": "绫濑桃",
		"Okarun":     "奥卡轮",
	}))
	g, err = ForSubtitle(srt, "en-US", "zh-CN")
	require.NoError(t, err)
	assert.Equal(t, "奥卡轮", g["Okarun"])
}

func TestLoad_DropsBlankEntriesAndRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Serpo":"蛇颇"," ":"x","Okarun":""}`), 0o644))

	g, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Glossary{"Serpo": "蛇颇"}, g)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	g := Glossary{
		"Momo Ayase":   "绫濑桃",
		"Okarun":       "奥卡轮",
		"Turbo Granny": "涡轮婆婆",
	}

	matched := g.Match([]string{"Momo Ayase, look out!", "okarun is lowercase here", "Okarun is here."})
	assert.Equal(t, Glossary{"Momo Ayase": "绫濑桃", "Okarun": "奥卡轮"}, matched)

	assert.Nil(t, g.Match([]string{"nothing relevant"}))
	assert.Nil(t, Glossary(nil).Match([]string{"Okarun"}))
}
