package publish

import (
	"crypto/sha1" //nolint:gosec // matching npm's declared digest, not security sensitive
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyShasumAcceptsMatchingDigest(t *testing.T) {
	data := []byte("tarball contents")
	sum := sha1.Sum(data) //nolint:gosec
	manifest := map[string]any{"dist": map[string]any{"shasum": hex.EncodeToString(sum[:])}}
	require.NoError(t, verifyShasum(data, manifest))
}

func TestVerifyShasumRejectsMismatch(t *testing.T) {
	data := []byte("tarball contents")
	manifest := map[string]any{"dist": map[string]any{"shasum": "0000000000000000000000000000000000000000"}}
	err := verifyShasum(data, manifest)
	require.Error(t, err)
}

func TestVerifyShasumSkipsWhenUndeclared(t *testing.T) {
	data := []byte("tarball contents")
	require.NoError(t, verifyShasum(data, map[string]any{}))
}

func TestTarballFilename(t *testing.T) {
	assert.Equal(t, "lodash-4.17.21.tgz", tarballFilename("lodash", "4.17.21"))
	assert.Equal(t, "kit-2.0.0.tgz", tarballFilename("@sveltejs/kit", "2.0.0"))
}
