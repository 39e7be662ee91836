package theme

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gpl = `GIMP Palette
Name: mono
Columns: 2
# a comment
0 0 0	black
255 255 255	white
300 0 0	out of range
`

func TestParseGPL(t *testing.T) {
	p, err := ParseGPL(strings.NewReader(gpl))
	require.NoError(t, err)
	assert.Equal(t, "mono", p.Name)
	assert.Equal(t, []RGB{{0, 0, 0}, {255, 255, 255}}, p.Colors)

	_, err = ParseGPL(strings.NewReader("GIMP Palette\n"))
	assert.Error(t, err)
}

func TestLookupInterpolates(t *testing.T) {
	p := &Palette{Colors: []RGB{{0, 0, 0}, {200, 100, 50}}}
	assert.Equal(t, RGB{0, 0, 0}, p.Lookup(-1))
	assert.Equal(t, RGB{100, 50, 25}, p.Lookup(0.5))
	assert.Equal(t, RGB{200, 100, 50}, p.Lookup(2))
	assert.Equal(t, "#c86432", p.Lookup(1).Hex())
}

func TestNewFallsBackToDefaultPalette(t *testing.T) {
	th := New(nil)
	require.NotNil(t, th.Palette)
	assert.Equal(t, "plasma", th.Palette.Name)
	assert.NotEqual(t, th.BG(), th.Success())

	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPalette(), p)
}
