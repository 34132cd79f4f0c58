// ABOUTME: Decoder for base64 JSON direct-URL manifests (vnd.tidal.bts kind)
// ABOUTME: Yields payload URLs plus the optional stream security token
package manifest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/noaione/spotilava/internal/domain"
)

// BTS is the direct-URL manifest kind: a base64 JSON document naming the
// payload URLs, the container mime type, and an optional security token
// for encrypted payloads.
type BTS struct {
	MimeType       string   `json:"mimeType"`
	Codecs         string   `json:"codecs"`
	EncryptionType string   `json:"encryptionType"`
	KeyID          string   `json:"keyId"`
	URLs           []string `json:"urls"`
}

// URL returns the primary payload URL.
func (b *BTS) URL() string {
	if len(b.URLs) == 0 {
		return ""
	}
	return b.URLs[0]
}

// ParseBTS decodes a base64-wrapped BTS manifest.
func ParseBTS(encoded string) (*BTS, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("bts decode: %w", domain.ErrBadManifest)
	}
	var bts BTS
	if err := json.Unmarshal(raw, &bts); err != nil {
		return nil, fmt.Errorf("bts parse: %w", domain.ErrBadManifest)
	}
	if len(bts.URLs) == 0 {
		return nil, fmt.Errorf("bts: no payload urls: %w", domain.ErrBadManifest)
	}
	return &bts, nil
}
