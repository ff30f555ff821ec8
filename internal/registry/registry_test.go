package registry

import (
	"errors"
	"testing"
	"testing/fstest"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prescriptionManifest = `
id: prescription
version: 1.0.0
entry: main.typ.tpl
required: [record_id, patient.name]
optional: [prescriptions]
layout:
  expected_pages: 1
  cases:
    long-history: 3
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"prescription/manifest.yaml": {Data: []byte(prescriptionManifest)},
		"prescription/main.typ.tpl":  {Data: []byte("= {{ patient.name }}\n")},
		"referral/manifest.yaml": {Data: []byte(`
id: referral
version: 0.1.0
entry: referral.typ.tpl
id_field: referral_id
required: [referral_id]
layout:
  expected_pages: 2
`)},
		"referral/referral.typ.tpl": {Data: []byte("referral\n")},
	}
}

func TestLoad(t *testing.T) {
	reg, err := Load(testFS())
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"prescription", "referral"}, reg.IDs())

	src, err := reg.Get("prescription")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", src.Version)
	assert.Equal(t, "prescription/main.typ.tpl", src.EntryPath)
	assert.Equal(t, []string{"record_id", "patient.name"}, src.Required)
	assert.Equal(t, "record_id", src.RecordIDField())
	assert.Equal(t, 1, src.ExpectedPages("empty-prescriptions"))
	assert.Equal(t, 3, src.ExpectedPages("long-history"))

	ref, err := reg.Get("referral")
	require.NoError(t, err)
	assert.Equal(t, "referral_id", ref.RecordIDField())

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "prescription", list[0].ID)
}

func TestGet_NotFound(t *testing.T) {
	reg, err := Load(testFS())
	require.NoError(t, err)

	_, err = reg.Get("invoice")
	require.Error(t, err)

	var notFound *rxerrors.TemplateNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "invoice", notFound.TemplateID)
	assert.Equal(t, []string{"prescription", "referral"}, notFound.Known)
}

func TestLoad_MissingEntry(t *testing.T) {
	fsys := testFS()
	delete(fsys, "referral/referral.typ.tpl")

	_, err := Load(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "referral")
}

func TestLoad_DuplicateID(t *testing.T) {
	fsys := testFS()
	fsys["copy/manifest.yaml"] = &fstest.MapFile{Data: []byte(prescriptionManifest)}
	fsys["copy/main.typ.tpl"] = &fstest.MapFile{Data: []byte("x")}

	_, err := Load(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared by both")
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		errMsg   string
	}{
		{"missing id", "version: 1.0.0\nentry: a\nlayout: {expected_pages: 1}", "id is required"},
		{"id with slash", "id: a/b\nversion: 1.0.0\nentry: a\nlayout: {expected_pages: 1}", "single path element"},
		{"missing version", "id: a\nentry: a\nlayout: {expected_pages: 1}", "version is required"},
		{"missing entry", "id: a\nversion: 1.0.0\nlayout: {expected_pages: 1}", "entry is required"},
		{"escaping entry", "id: a\nversion: 1.0.0\nentry: ../x\nlayout: {expected_pages: 1}", "relative"},
		{"zero pages", "id: a\nversion: 1.0.0\nentry: a\nlayout: {expected_pages: 0}", "expected_pages"},
		{"zero case pages", "id: a\nversion: 1.0.0\nentry: a\nlayout: {expected_pages: 1, cases: {x: 0}}", "layout.cases.x"},
		{"blank required", "id: a\nversion: 1.0.0\nentry: a\nrequired: ['']\nlayout: {expected_pages: 1}", "empty required"},
		{"bad yaml", "id: [", "decode manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.manifest))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
