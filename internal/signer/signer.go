// Package signer provides the production mesh.Signer: a pre-shared-key
// HMAC-SHA256 scheme standing in for the mesh's per-peer signing
// handshake, the same keyed-digest shape the reference daemon uses for
// its RFC 5880 Section 6.7.4 Keyed SHA1 authentication.
package signer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/flximg/meshnode/internal/mesh"
)

// NonceSize is the length in bytes of a generated nonce.
const NonceSize = 8

// DigestSize is the length in bytes of the HMAC-SHA256 tag appended to a
// signed message.
const DigestSize = 8

// HMAC is a mesh.Signer keyed by a single shared secret.
//
// A signed frame always transmits at its full fixed wire length, with the
// tag riding inside the logical payload window rather than at the end of
// the buffer, and its header differs from the one Sign originally saw
// (the Signed bit is set, and the payload type byte has been overwritten
// to mark an opaque custom payload). Sign and Verify therefore both
// authenticate the payload body alone -- the bytes that are identical on
// both sides of the wire -- rather than the full framed message, which
// is not.
type HMAC struct {
	key []byte
}

// New creates an HMAC signer using key as the shared secret. key must be
// non-empty.
func New(key []byte) (*HMAC, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signer: key must not be empty")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMAC{key: k}, nil
}

// GenerateNonce implements mesh.Signer.
func (h *HMAC) GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("signer: generate nonce: %w", err)
	}
	return nonce, nil
}

// Sign implements mesh.Signer: it returns an HMAC-SHA256 tag over the
// payload bytes of msg, truncated to DigestSize bytes. msg is the
// marshaled, not-yet-signed frame (header plus payload); only the
// payload bytes past the fixed header survive unchanged once the frame
// is re-marshaled as signed, so the header itself is excluded from the
// tag. nonce is accepted to satisfy the handshake's round-trip shape but
// does not enter the tag -- the wire frame has no field to carry it for
// the remote Verify call to recover.
func (h *HMAC) Sign(msg []byte, nonce []byte) ([]byte, error) {
	body := msg
	if len(msg) >= mesh.HeaderSize {
		body = msg[mesh.HeaderSize:]
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(body)
	return mac.Sum(nil)[:DigestSize], nil
}

// Verify implements mesh.Signer: it unmarshals wire, strips the trailing
// DigestSize bytes of its logical payload as the tag, and checks that
// tag against an HMAC-SHA256 recomputed over the remaining payload
// bytes.
func (h *HMAC) Verify(wire []byte) bool {
	var msg mesh.Message
	if err := mesh.Unmarshal(wire, &msg); err != nil {
		return false
	}
	payload := msg.PayloadBytes()
	if len(payload) < DigestSize {
		return false
	}
	split := len(payload) - DigestSize
	body, tag := payload[:split], payload[split:]

	mac := hmac.New(sha256.New, h.key)
	mac.Write(body)
	want := mac.Sum(nil)[:DigestSize]

	return subtle.ConstantTimeCompare(want, tag) == 1
}
