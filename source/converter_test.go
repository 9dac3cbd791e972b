package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Text(t *testing.T) {
	c, err := NewConverter(ModeText)
	require.NoError(t, err)

	title, text, err := c.Convert([]byte(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "Lawson criterion", title)
	assert.Equal(t, "Lawson criterion\nThe Lawson_criterion relates density and confinement time.\nTriple_product must exceed ignition.", text)
}

func TestConverter_Text_NoMainElement(t *testing.T) {
	c, err := NewConverter("")
	require.NoError(t, err)

	page := `<html><head><title>T</title></head><body>
<div class="sidebar">Related pages</div>
<div><p>Plasma beta is the ratio of pressures.</p></div>
<aside>Ads</aside>
</body></html>`

	title, text, err := c.Convert([]byte(page))
	require.NoError(t, err)

	assert.Equal(t, "T", title)
	assert.Equal(t, "Plasma beta is the ratio of pressures.", text)
}

func TestConverter_Markdown(t *testing.T) {
	c, err := NewConverter(ModeMarkdown)
	require.NoError(t, err)

	page := `<html><body><article><h1>Tokamak</h1><p>A <strong>tokamak</strong> confines plasma.</p><ul><li>ITER</li><li>JET</li></ul></article></body></html>`

	title, text, err := c.Convert([]byte(page))
	require.NoError(t, err)

	assert.Empty(t, title)
	assert.Contains(t, text, "# Tokamak")
	assert.Contains(t, text, "**tokamak**")
	assert.Contains(t, text, "- ITER")
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 10, "abc"},
		{"ñandú", 2, "ña"},
		{"abc", 0, "abc"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateRunes(tt.in, tt.n), "truncateRunes(%q, %d)", tt.in, tt.n)
	}
}
