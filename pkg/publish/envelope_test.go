package publish

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope(t *testing.T, name, version string, data []byte) []byte {
	t.Helper()
	env := map[string]any{
		"_id":  name,
		"name": name,
		"versions": map[string]any{
			version: map[string]any{
				"name":    name,
				"version": version,
				"dist":    map[string]any{},
			},
		},
		"_attachments": map[string]any{
			name + "-" + version + ".tgz": map[string]any{
				"content_type": "application/octet-stream",
				"data":         base64.StdEncoding.EncodeToString(data),
				"length":       len(data),
			},
		},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestParseEnvelopeHappyPath(t *testing.T) {
	body := sampleEnvelope(t, "lodash", "1.0.0", []byte("tarball-bytes"))

	env, version, manifest, attachment, err := ParseEnvelope(body, "lodash")
	require.NoError(t, err)
	assert.Equal(t, "lodash", env.Name)
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, "1.0.0", manifest["version"])
	assert.NotEmpty(t, attachment.Data)
}

func TestParseEnvelopeRejectsNameMismatch(t *testing.T) {
	body := sampleEnvelope(t, "lodash", "1.0.0", []byte("x"))
	_, _, _, _, err := ParseEnvelope(body, "not-lodash")
	require.Error(t, err)
}

func TestParseEnvelopeRejectsMultipleVersions(t *testing.T) {
	raw := []byte(`{"_id":"pkg","name":"pkg","versions":{"1.0.0":{},"2.0.0":{}},"_attachments":{"a":{"content_type":"x","data":"","length":0}}}`)
	_, _, _, _, err := ParseEnvelope(raw, "pkg")
	require.Error(t, err)
}

func TestDecodeAttachmentVerifiesLength(t *testing.T) {
	data := []byte("hello world")
	a := Attachment{Data: base64.StdEncoding.EncodeToString(data), Length: int64(len(data))}
	decoded, err := DecodeAttachment(a)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeAttachmentRejectsLengthMismatch(t *testing.T) {
	data := []byte("hello world")
	a := Attachment{Data: base64.StdEncoding.EncodeToString(data), Length: int64(len(data) + 1)}
	_, err := DecodeAttachment(a)
	require.Error(t, err)
}

func TestDecodeAttachmentRejectsInvalidBase64(t *testing.T) {
	a := Attachment{Data: "not-base64!!", Length: 0}
	_, err := DecodeAttachment(a)
	require.Error(t, err)
}
