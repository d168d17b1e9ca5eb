package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := []byte(`{"bundle_name": "app", "assets": [
		{"name": "main.js", "hash": "abc123", "size": 2048},
		{"name": "main.css", "hash": "def456", "size": 512}
	]}`)

	b, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "app", b.Name)
	assert.False(t, b.Cached)
	require.Len(t, b.Assets, 2)
	assert.NotEmpty(t, b.Assets[0].UUID)
	assert.NotEqual(t, b.Assets[0].UUID, b.Assets[1].UUID)
	assert.Equal(t, int64(2560), b.TotalBytes())
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `]`,
		"no name":       `{"assets": []}`,
		"unnamed asset": `{"bundle_name": "app", "assets": [{"size": 1}]}`,
		"negative size": `{"bundle_name": "app", "assets": [{"name": "x", "size": -1}]}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestAssociateAssets(t *testing.T) {
	prev := &Bundle{Name: "app", Assets: []Asset{
		{UUID: "uuid-1", Name: "main.js", Hash: "aaa", Size: 100},
		{UUID: "uuid-2", Name: "vendor.js", Hash: "bbb", Size: 200},
	}}

	next := &Bundle{Name: "app", Assets: []Asset{
		{UUID: "fresh-1", Name: "main.js", Hash: "aaa", Size: 100},  // exact match
		{UUID: "fresh-2", Name: "vendor.js", Hash: "ccc", Size: 250}, // name-only match
		{UUID: "fresh-3", Name: "new.js", Hash: "ddd", Size: 50},     // no match
	}}

	next.AssociateAssets(prev)

	assert.Equal(t, "uuid-1", next.Assets[0].UUID)
	assert.Equal(t, "uuid-2", next.Assets[1].UUID)
	assert.Equal(t, "fresh-3", next.Assets[2].UUID)
}

func TestCarryForwardFrom_PrunesUncached(t *testing.T) {
	prev := New()
	prev.Bundles["A"] = &Bundle{Name: "A", Assets: []Asset{{UUID: "a", Name: "a.js", Size: 10}}}
	prev.Bundles["B"] = &Bundle{Name: "B", Assets: []Asset{{UUID: "b", Name: "b.js", Size: 20}}}

	cur := New()
	enabled := map[string]bool{"A": true}
	cur.CarryForwardFrom(prev, func(name string) bool { return enabled[name] })

	require.Contains(t, cur.Bundles, "A")
	assert.True(t, cur.Bundles["A"].Cached)
	assert.NotContains(t, cur.Bundles, "B")
	assert.Equal(t, int64(10), cur.TotalBytes())
}

func TestCarryForwardFrom_KeepsOwnBundles(t *testing.T) {
	prev := New()
	prev.Bundles["A"] = &Bundle{Name: "A", Assets: []Asset{{UUID: "old", Name: "a.js", Size: 10}}}

	cur := New()
	cur.Put(&Bundle{Name: "A", Assets: []Asset{{UUID: "new", Name: "a.js", Size: 15}}})
	cur.CarryForwardFrom(prev, func(string) bool { return true })

	assert.False(t, cur.Bundles["A"].Cached)
	assert.Equal(t, "new", cur.Bundles["A"].Assets[0].UUID)
}

func TestSQLiteFile_RoundTrip(t *testing.T) {
	r := New()
	r.Bundles["app"] = &Bundle{Name: "app", Cached: true, Assets: []Asset{
		{UUID: "u1", Name: "main.js", Hash: "abc", Size: 2048},
		{UUID: "u2", Name: "main.css", Hash: "", Size: 512},
	}}
	r.Bundles["admin"] = &Bundle{Name: "admin", Assets: []Asset{
		{UUID: "u3", Name: "admin.js", Hash: "def", Size: 1024},
	}}

	data, err := Marshal(r)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	back, err := Unmarshal(data)
	require.NoError(t, err)

	require.Len(t, back.Bundles, 2)
	assert.True(t, back.Bundles["app"].Cached)
	assert.False(t, back.Bundles["admin"].Cached)
	assert.Equal(t, r.TotalBytes(), back.TotalBytes())
	require.Len(t, back.Bundles["app"].Assets, 2)
	assert.Equal(t, "u1", back.Bundles["app"].Assets[0].UUID)
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte("definitely not a sqlite file"))
	require.Error(t, err)
}
