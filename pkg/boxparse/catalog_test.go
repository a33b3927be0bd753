package boxparse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()

	moov, ok := cat.Lookup("moov")
	require.True(t, ok)
	assert.True(t, moov.Container)

	meta, ok := cat.Lookup("meta")
	require.True(t, ok)
	assert.Equal(t, int64(4), meta.ChildOffset)

	ftyp, ok := cat.Lookup("ftyp")
	require.True(t, ok)
	assert.True(t, ftyp.Capture)

	_, ok = cat.Lookup("zzzz")
	assert.False(t, ok)

	var nilCatalog *Catalog
	_, ok = nilCatalog.Lookup("moov")
	assert.False(t, ok)
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "bad yaml", yaml: "boxes: [unclosed"},
		{name: "short type", yaml: "boxes:\n  abc: {container: true}"},
		{name: "container and capture", yaml: "boxes:\n  abcd: {container: true, capture: true}"},
		{name: "child offset on leaf", yaml: "boxes:\n  abcd: {child_offset: 4}"},
		{name: "negative child offset", yaml: "boxes:\n  abcd: {container: true, child_offset: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boxes:\n  \"©nam\": {capture: true}\n"), 0644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	spec, ok := cat.Lookup("©nam")
	require.True(t, ok)
	assert.True(t, spec.Capture)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty, err := ParseCatalog([]byte("{}"))
	require.NoError(t, err)
	assert.NotNil(t, empty.Boxes)
}

func TestCatalogExtend(t *testing.T) {
	custom, err := ParseCatalog([]byte("boxes:\n  mdat: {capture: true}\n  wrap: {container: true}\n"))
	require.NoError(t, err)

	merged := DefaultCatalog().Extend(custom)
	mdat, _ := merged.Lookup("mdat")
	assert.True(t, mdat.Capture)
	_, ok := merged.Lookup("wrap")
	assert.True(t, ok)
	_, ok = merged.Lookup("moov")
	assert.True(t, ok)

	orig, _ := DefaultCatalog().Lookup("mdat")
	assert.False(t, orig.Capture, "default catalog unchanged")
}

func TestDecodeFourCC(t *testing.T) {
	assert.Equal(t, "moov", decodeFourCC([]byte("moov")))
	assert.Equal(t, "©nam", decodeFourCC([]byte{0xA9, 'n', 'a', 'm'}))
}
