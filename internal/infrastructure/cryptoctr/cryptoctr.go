// ABOUTME: AES-CTR payload decryption with security token unwrapping
// ABOUTME: Unwraps key and nonce from a manifest token via AES-CBC and a master key
package cryptoctr

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/noaione/spotilava/internal/domain"
)

// masterKeyB64 unwraps security tokens. Publicly known and shipped inside
// every client capable of playing these streams back.
const masterKeyB64 = "UIlTTEMmmLfGowo/UC60x2H45W6MdGgTRfo/umg4754="

// UnwrapToken decodes a security token into the payload key and nonce.
// The token is base64 of a 16-byte IV followed by an AES-CBC sealed blob
// whose plaintext carries the 16-byte payload key and an 8-byte nonce.
func UnwrapToken(token string) (key, nonce []byte, err error) {
	master, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, nil, fmt.Errorf("master key decode: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, nil, fmt.Errorf("security token decode: %w", domain.ErrUndecryptable)
	}
	sealed := raw[min(len(raw), aes.BlockSize):]
	if len(sealed) < 2*aes.BlockSize || len(sealed)%aes.BlockSize != 0 {
		return nil, nil, fmt.Errorf("security token length %d: %w", len(raw), domain.ErrUndecryptable)
	}
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, nil, fmt.Errorf("master cipher init: %w", err)
	}
	iv := raw[:aes.BlockSize]
	opened := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(opened, sealed)
	return opened[:16], opened[16:24], nil
}

// Decryptor applies the unwrapped stream cipher to payload bytes in read
// order. Counter state advances with every call, so each byte must be fed
// exactly once and in sequence. A no-token Decryptor passes bytes through.
type Decryptor struct {
	stream cipher.Stream
}

// New builds a Decryptor from a manifest security token. An empty token
// means the payload is served plain.
func New(token string) (*Decryptor, error) {
	if token == "" {
		return &Decryptor{}, nil
	}
	key, nonce, err := UnwrapToken(token)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload cipher init: %w", err)
	}
	// Counter block: the 8-byte nonce followed by a 64-bit big-endian
	// counter starting at zero.
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return &Decryptor{stream: cipher.NewCTR(block, iv)}, nil
}

// Apply decrypts p in place.
func (d *Decryptor) Apply(p []byte) {
	if d.stream != nil {
		d.stream.XORKeyStream(p, p)
	}
}

// Passthrough reports whether the payload needs no decryption.
func (d *Decryptor) Passthrough() bool {
	return d.stream == nil
}

// NewReader wraps src so its bytes come out decrypted. With an empty token
// src is returned unchanged.
func NewReader(src io.Reader, token string) (io.Reader, error) {
	d, err := New(token)
	if err != nil {
		return nil, err
	}
	if d.Passthrough() {
		return src, nil
	}
	return cipher.StreamReader{S: d.stream, R: src}, nil
}
