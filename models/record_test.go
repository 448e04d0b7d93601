package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_UnmarshalJSONKeepsFieldOrder(t *testing.T) {
	data := []byte(`{
		"id": "rec1",
		"createdTime": "2024-01-01T00:00:00.000Z",
		"fields": {"zeta": "z", "alpha": 1, "mid": true, "tags": ["a", "b"], "empty": null}
	}`)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))

	assert.Equal(t, "rec1", rec.ID)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", rec.CreatedTime)
	assert.Equal(t, []string{"zeta", "alpha", "mid", "tags", "empty"}, rec.Fields.Names())

	v, ok := rec.Fields.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), v)

	v, ok = rec.Fields.Get("tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	v, ok = rec.Fields.Get("empty")
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = rec.Fields.Get("missing")
	assert.False(t, ok)
}

func TestRecord_UnmarshalJSONIgnoresUnknownKeys(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"rec2","commentCount":3,"fields":{}}`), &rec))

	assert.Equal(t, "rec2", rec.ID)
	assert.Empty(t, rec.Fields)
}

func TestFields_UnmarshalJSONRejectsGarbage(t *testing.T) {
	var f Fields
	assert.Error(t, json.Unmarshal([]byte(`{"a": }`), &f))
}

func TestFields_LargeIntegersSurvive(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"n": 12345678901234567890}`), &f))

	v, _ := f.Get("n")
	assert.Equal(t, json.Number("12345678901234567890"), v)
}

func TestLoadWorkloadConfig(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "workload.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"workers": 2,
		"exports": [
			{"name": "customers", "table_id": "tblC", "output_path": "./customers/", "view": "Grid"}
		]
	}`), 0644))

	yamlPath := filepath.Join(dir, "workload.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`workers: 2
exports:
  - name: customers
    table_id: tblC
    output_path: ./customers/
    view: Grid
`), 0644))

	for _, path := range []string{jsonPath, yamlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			w, err := LoadWorkloadConfig(path)
			require.NoError(t, err)

			assert.Equal(t, 2, w.Workers)
			require.Len(t, w.Exports, 1)
			assert.Equal(t, "customers", w.Exports[0].Label())
			assert.Equal(t, "tblC", w.Exports[0].TableID)
			assert.Equal(t, "./customers/", w.Exports[0].OutputPath)
			assert.Equal(t, "Grid", w.Exports[0].View)
		})
	}
}

func TestLoadWorkloadConfig_Errors(t *testing.T) {
	_, err := LoadWorkloadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadWorkloadConfig(bad)
	assert.Error(t, err)
}

func TestExport_Label(t *testing.T) {
	assert.Equal(t, "tblX", Export{TableID: "tblX"}.Label())
	assert.Equal(t, "named", Export{Name: "named", TableID: "tblX"}.Label())
}
