package analyze

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultPlainJSON(t *testing.T) {
	result, err := parseResult(`{"date":"2025-03-14","vendor":"セブンイレブン","amount":1280,"category":"消耗品費","paymentMethod":"現金","description":"文房具の購入"}`)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", result.Date)
	assert.Equal(t, "セブンイレブン", result.Vendor)
	assert.Equal(t, 1280.0, result.Amount)
	assert.Equal(t, "消耗品費", result.Category)
}

func TestParseResultMarkdownFence(t *testing.T) {
	content := "```json\n{\"date\":\"2025-03-14\",\"vendor\":\"JR東日本\",\"amount\":460}\n```"
	result, err := parseResult(content)
	require.NoError(t, err)
	assert.Equal(t, "JR東日本", result.Vendor)
	assert.Equal(t, 460.0, result.Amount)
}

func TestParseResultEmbeddedJSON(t *testing.T) {
	content := `Here is the extraction: {"date":"2025-03-14","vendor":"タカシマヤ","amount":3200} done.`
	result, err := parseResult(content)
	require.NoError(t, err)
	assert.Equal(t, "タカシマヤ", result.Vendor)
}

func TestParseResultInvalid(t *testing.T) {
	_, err := parseResult("not json at all")
	assert.Error(t, err)
}

func TestBuildPromptInlinesCategories(t *testing.T) {
	prompt := buildPrompt("en", []string{"Travel", "Supplies"})
	assert.Contains(t, prompt, "[Travel, Supplies]")
	assert.Contains(t, prompt, "YYYY-MM-DD")
}

func TestBuildPromptFallsBackToJapanese(t *testing.T) {
	prompt := buildPrompt("fr", []string{"旅費交通費"})
	assert.Contains(t, prompt, "領収書")
	assert.Contains(t, prompt, "旅費交通費")
}

func TestBuildPromptLanguages(t *testing.T) {
	for _, lang := range []string{"ja", "en", "zh-CN", "zh-TW", "de", "es", "it"} {
		t.Run(lang, func(t *testing.T) {
			prompt := buildPrompt(lang, []string{"X"})
			assert.Contains(t, prompt, "[X]")
		})
	}
}

func TestIsHEICDetection(t *testing.T) {
	heicHeader := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
	heicHeader = append(heicHeader, make([]byte, 8)...)

	tests := []struct {
		name     string
		data     []byte
		mimeType string
		want     bool
	}{
		{"heic magic bytes", heicHeader, "image/jpeg", true},
		{"heic mime type", []byte("anything"), "image/heic", true},
		{"heif mime type", []byte("anything"), "image/heif", true},
		{"png bytes", []byte("\x89PNG\r\n\x1a\n12345678"), "image/png", false},
		{"short data", []byte("abc"), "image/jpeg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isHEIC(tt.data, tt.mimeType))
		})
	}
}

func TestPrepareImagePassesThroughPNG(t *testing.T) {
	// Minimal check that a declared PNG that is not HEIC is returned as-is.
	data := []byte("\x89PNG\r\n\x1a\nrest-of-png")
	out, mimeType, err := prepareImage(data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "image/png", mimeType)
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	_, _, err := prepareImage([]byte("not an image"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decode"))
}
