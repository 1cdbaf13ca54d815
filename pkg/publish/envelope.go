// Package publish implements the npm publish envelope: parsing,
// validation, and atomic persistence of a new package version.
package publish

import (
	"encoding/base64"
	"encoding/json"

	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/registry"
)

// Attachment is one entry of the envelope's _attachments map.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int64  `json:"length"`
}

// Envelope is the npm publish request body (spec.md §4.4).
type Envelope struct {
	ID          string                    `json:"_id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	DistTags    map[string]string         `json:"dist-tags,omitempty"`
	Versions    map[string]map[string]any `json:"versions"`
	Attachments map[string]Attachment     `json:"_attachments"`
	Readme      string                    `json:"readme,omitempty"`
}

// ParseEnvelope unmarshals and structurally validates body: exactly one
// version, exactly one attachment, and the envelope name must match
// the URL path (spec.md §4.4 step 2).
func ParseEnvelope(body []byte, urlName string) (*Envelope, string, map[string]any, Attachment, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", nil, Attachment{}, regerr.Validation("malformed publish envelope: %v", err)
	}

	name := registry.NormalizeName(urlName)
	if env.Name != name {
		return nil, "", nil, Attachment{}, regerr.Validation("envelope name %q does not match URL %q", env.Name, name)
	}
	if !registry.IsValidName(name) {
		return nil, "", nil, Attachment{}, regerr.Validation("invalid package name %q", name)
	}
	if len(env.Versions) != 1 {
		return nil, "", nil, Attachment{}, regerr.Validation("envelope must declare exactly one version, got %d", len(env.Versions))
	}
	if len(env.Attachments) != 1 {
		return nil, "", nil, Attachment{}, regerr.Validation("envelope must declare exactly one attachment, got %d", len(env.Attachments))
	}

	var version string
	var manifest map[string]any
	for v, m := range env.Versions {
		version, manifest = v, m
	}
	var attachment Attachment
	for _, a := range env.Attachments {
		attachment = a
	}

	return &env, version, manifest, attachment, nil
}

// DecodeAttachment base64-decodes the attachment body and verifies its
// length against the declared value (spec.md §4.4 step 5, first half).
func DecodeAttachment(a Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, regerr.Validation("attachment is not valid base64: %v", err)
	}
	if a.Length > 0 && int64(len(data)) != a.Length {
		return nil, regerr.Validation("attachment length mismatch: declared %d, got %d", a.Length, len(data))
	}
	return data, nil
}
