package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeLatestPicksHighestSemver(t *testing.T) {
	doc := &Document{
		Versions: map[string]VersionManifest{
			"1.0.0": {},
			"1.2.0": {},
			"1.1.5": {},
		},
	}
	recomputeLatest(doc)
	assert.Equal(t, "1.2.0", doc.DistTags["latest"])
}

func TestRecomputeLatestIgnoresUnparsableVersions(t *testing.T) {
	doc := &Document{
		Versions: map[string]VersionManifest{
			"1.0.0":   {},
			"garbage": {},
		},
	}
	recomputeLatest(doc)
	assert.Equal(t, "1.0.0", doc.DistTags["latest"])
}

func TestFilenameFromTarballURL(t *testing.T) {
	got := filenameFromTarballURL("https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz", "lodash", "4.17.21")
	assert.Equal(t, "lodash-4.17.21.tgz", got)
}

func TestFilenameFromTarballURLFallsBackToConstructedName(t *testing.T) {
	got := filenameFromTarballURL("", "@scope/name", "1.0.0")
	assert.Equal(t, "name-1.0.0.tgz", got)
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "name", lastSegment("@scope/name"))
	assert.Equal(t, "lodash", lastSegment("lodash"))
}
