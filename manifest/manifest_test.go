package manifest_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/depwarm/depwarm"
	"github.com/depwarm/depwarm/manifest"
)

func TestReadParsesBothSections(t *testing.T) {
	m, err := manifest.Read(strings.NewReader(`{
		"dependencies": {"left-pad": "1.0.0"},
		"devDependencies": {"mocha": "^9.0.0"}
	}`))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"left-pad": "1.0.0"}, m.Runtime)
	require.Equal(t, map[string]string{"mocha": "^9.0.0"}, m.Development)
}

func TestReadDefaultsMissingSectionToEmptyMap(t *testing.T) {
	m, err := manifest.Read(strings.NewReader(`{"dependencies": {"left-pad": "1.0.0"}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Development)
	require.Empty(t, m.Development)
}

func TestReadRejectsInvalidJSON(t *testing.T) {
	_, err := manifest.Read(strings.NewReader(`not json`))
	require.Error(t, err)
	require.Equal(t, depwarm.KindManifestInvalid, depwarm.Kind(err))
}

func TestReadRejectsManifestWithNeitherSection(t *testing.T) {
	_, err := manifest.Read(strings.NewReader(`{"name": "pkg"}`))
	require.Error(t, err)
	require.Equal(t, depwarm.KindManifestInvalid, depwarm.Kind(err))
}

func TestValidateSpecifiersAcceptsWildcardsAndRanges(t *testing.T) {
	m := &manifest.Manifest{
		Runtime: map[string]string{
			"left-pad": "^1.0.0",
			"lodash":   "*",
			"chalk":    "latest",
			"express":  ">=4.0.0 <5.0.0",
		},
		Development: map[string]string{},
	}
	require.NoError(t, m.ValidateSpecifiers())
}

func TestValidateSpecifiersAcceptsNonSemverForms(t *testing.T) {
	m := &manifest.Manifest{
		Runtime: map[string]string{
			"my-fork": "git+https://example.com/fork.git#v1",
			"local":   "file:../local-pkg",
		},
		Development: map[string]string{},
	}
	require.NoError(t, m.ValidateSpecifiers())
}

func TestValidateSpecifiersRejectsBrokenRange(t *testing.T) {
	m := &manifest.Manifest{
		Runtime:     map[string]string{"left-pad": "^^1.0.0"},
		Development: map[string]string{},
	}
	err := m.ValidateSpecifiers()
	require.Error(t, err)
	require.Equal(t, depwarm.KindManifestInvalid, depwarm.Kind(err))
}

func TestLockfileAbsentIsNotPresent(t *testing.T) {
	require.False(t, manifest.Absent.Present())
	require.Nil(t, manifest.Absent.Canonical())
}

func TestReadLockfileCanonicalIsKeySorted(t *testing.T) {
	l1, err := manifest.ReadLockfile(strings.NewReader(`{"b": 1, "a": 2}`))
	require.NoError(t, err)
	l2, err := manifest.ReadLockfile(strings.NewReader(`{"a": 2, "b": 1}`))
	require.NoError(t, err)

	require.True(t, l1.Present())
	require.Equal(t, l1.Canonical(), l2.Canonical())
	require.Equal(t, `{"a":2,"b":1}`, string(l1.Canonical()))
}

func TestBundleDescriptorRoundTrips(t *testing.T) {
	d := manifest.BundleDescriptor{
		Fingerprint: "deadbeef",
		Source:      "local-dir",
		WrittenAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := d.Marshal()
	require.NoError(t, err)

	got, err := manifest.UnmarshalDescriptor(b)
	require.NoError(t, err)
	require.Equal(t, d.Fingerprint, got.Fingerprint)
	require.Equal(t, d.Source, got.Source)
	require.True(t, d.WrittenAt.Equal(got.WrittenAt))
}
