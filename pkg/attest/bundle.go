package attest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PreKeyBundle is the public half of an identity, as served by a directory
// and consumed by establish_outbound_session. All binary fields are Base64.
type PreKeyBundle struct {
	IdentityKey   string             `json:"identityKey"`
	PQIdentityKey string             `json:"pq_identityKey"`
	SignedPreKey  SignedPreKeyBundle `json:"signedPreKey"`
	PreKeys       []PreKeyEntry      `json:"preKeys,omitempty"`
}

type SignedPreKeyBundle struct {
	PublicKey   string `json:"publicKey"`
	PQPublicKey string `json:"pq_publicKey"`
	Signature   string `json:"signature,omitempty"`
}

type PreKeyEntry struct {
	PublicKey   string `json:"publicKey"`
	PQPublicKey string `json:"pq_publicKey,omitempty"`
}

// Bundle exports the shareable half of the identity.
func (id *Identity) Bundle() *PreKeyBundle {
	b := &PreKeyBundle{
		IdentityKey:   base64.StdEncoding.EncodeToString(id.PublicKey),
		PQIdentityKey: base64.StdEncoding.EncodeToString(id.PQPublicKey),
		SignedPreKey: SignedPreKeyBundle{
			PublicKey:   base64.StdEncoding.EncodeToString(id.SignedPreKey.PublicKey),
			PQPublicKey: base64.StdEncoding.EncodeToString(id.SignedPreKey.PQPublicKey),
			Signature:   base64.StdEncoding.EncodeToString(id.SignedPreKey.Signature),
		},
	}
	for _, pk := range id.OneTimePreKeys {
		b.PreKeys = append(b.PreKeys, PreKeyEntry{
			PublicKey:   base64.StdEncoding.EncodeToString(pk.PublicKey),
			PQPublicKey: base64.StdEncoding.EncodeToString(pk.PQPublicKey),
		})
	}
	return b
}

// ParseBundle decodes a remote bundle and, when a signature is present,
// verifies the signed pre-key against the bundle's identity key.
func ParseBundle(data []byte) (*PreKeyBundle, error) {
	var b PreKeyBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("deserializing bundle: %w", err)
	}
	if b.IdentityKey == "" || b.SignedPreKey.PublicKey == "" {
		return nil, fmt.Errorf("%w: bundle is missing required keys", ErrInvalidKey)
	}

	if b.SignedPreKey.Signature != "" {
		ik, err := base64.StdEncoding.DecodeString(b.IdentityKey)
		if err != nil {
			return nil, fmt.Errorf("decoding identity key: %w", err)
		}
		spk, err := base64.StdEncoding.DecodeString(b.SignedPreKey.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decoding signed pre-key: %w", err)
		}
		pqspk, err := base64.StdEncoding.DecodeString(b.SignedPreKey.PQPublicKey)
		if err != nil {
			return nil, fmt.Errorf("decoding pq pre-key: %w", err)
		}
		sig, err := base64.StdEncoding.DecodeString(b.SignedPreKey.Signature)
		if err != nil {
			return nil, fmt.Errorf("decoding signature: %w", err)
		}
		if !Verify(ik, append(append([]byte{}, spk...), pqspk...), sig) {
			return nil, ErrInvalidSignature
		}
	}

	return &b, nil
}
