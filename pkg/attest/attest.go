// Package attest manages the long-term identity of an installation: the
// Ed25519 signing keypair, the Kyber-1024 identity keypair, the signed
// pre-key, and the one-time pre-key pool.
package attest

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/ed25519"

	"github.com/entropy-org/entropy/pkg/exchange"
)

const (
	// registration ids are 14-bit, never zero
	registrationIDMax = 16383

	// DefaultPreKeyCount is the size of a freshly generated one-time
	// pre-key pool.
	DefaultPreKeyCount = 10
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrNoPreKeys        = errors.New("no one-time pre-keys left")
	ErrInvalidSignature = errors.New("signature verification failed")
)

// PreKey is an X25519 plus Kyber-1024 keypair from the one-time pool.
type PreKey struct {
	PublicKey    []byte `json:"public_key"`
	PrivateKey   []byte `json:"private_key"`
	PQPublicKey  []byte `json:"pq_public_key"`
	PQPrivateKey []byte `json:"pq_private_key"`
}

// SignedPreKey is the medium-term pre-key, signed by the identity key over
// the concatenation of its public halves.
type SignedPreKey struct {
	PublicKey    []byte `json:"public_key"`
	PrivateKey   []byte `json:"private_key"`
	PQPublicKey  []byte `json:"pq_public_key"`
	PQPrivateKey []byte `json:"pq_private_key"`
	Signature    []byte `json:"signature"`
}

// Identity is the singleton long-term identity of an installation.
type Identity struct {
	RegistrationID uint32       `json:"registration_id"`
	Alias          string       `json:"alias"`
	PublicKey      []byte       `json:"public_key"`
	PrivateKey     []byte       `json:"private_key"` // ed25519 seed
	PQPublicKey    []byte       `json:"pq_public_key"`
	PQPrivateKey   []byte       `json:"pq_private_key"`
	SignedPreKey   SignedPreKey `json:"signed_pre_key"`
	OneTimePreKeys []PreKey     `json:"one_time_pre_keys"`
}

// NewIdentity generates a fresh identity with a signed pre-key and a full
// one-time pre-key pool.
func NewIdentity(alias string) (*Identity, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating identity keypair: %w", err)
	}
	pqPublic, pqPrivate, err := exchange.NewKyber()
	if err != nil {
		return nil, fmt.Errorf("generating kyber identity: %w", err)
	}

	id := &Identity{
		RegistrationID: registrationID(),
		Alias:          alias,
		PublicKey:      public,
		PrivateKey:     private.Seed(),
		PQPublicKey:    pqPublic,
		PQPrivateKey:   pqPrivate,
	}
	if err := id.rotateSignedPreKey(); err != nil {
		return nil, err
	}
	if err := id.ReplenishPreKeys(DefaultPreKeyCount); err != nil {
		return nil, err
	}

	return id, nil
}

func registrationID() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])%registrationIDMax + 1
}

func (id *Identity) rotateSignedPreKey() error {
	dh, err := exchange.NewECDH()
	if err != nil {
		return fmt.Errorf("generating signed pre-key: %w", err)
	}
	pqPublic, pqPrivate, err := exchange.NewKyber()
	if err != nil {
		return fmt.Errorf("generating kyber pre-key: %w", err)
	}

	id.SignedPreKey = SignedPreKey{
		PublicKey:    dh.PublicKey,
		PrivateKey:   dh.MarshalPrivateKey(),
		PQPublicKey:  pqPublic,
		PQPrivateKey: pqPrivate,
		Signature:    id.Sign(append(append([]byte{}, dh.PublicKey...), pqPublic...)),
	}
	return nil
}

// ReplenishPreKeys tops the one-time pool back up to count entries.
func (id *Identity) ReplenishPreKeys(count int) error {
	for len(id.OneTimePreKeys) < count {
		dh, err := exchange.NewECDH()
		if err != nil {
			return fmt.Errorf("generating one-time pre-key: %w", err)
		}
		pqPublic, pqPrivate, err := exchange.NewKyber()
		if err != nil {
			return fmt.Errorf("generating one-time kyber pre-key: %w", err)
		}
		id.OneTimePreKeys = append(id.OneTimePreKeys, PreKey{
			PublicKey:    dh.PublicKey,
			PrivateKey:   dh.MarshalPrivateKey(),
			PQPublicKey:  pqPublic,
			PQPrivateKey: pqPrivate,
		})
	}
	return nil
}

// ConsumeOneTimePreKey removes and returns the oldest pool entry. Inbound
// handshakes take the same entry a published bundle advertises first.
func (id *Identity) ConsumeOneTimePreKey() (*PreKey, error) {
	if len(id.OneTimePreKeys) == 0 {
		return nil, ErrNoPreKeys
	}
	pk := id.OneTimePreKeys[0]
	id.OneTimePreKeys = append(id.OneTimePreKeys[:0:0], id.OneTimePreKeys[1:]...)
	return &pk, nil
}

// Sign signs msg with the long-term Ed25519 key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(ed25519.NewKeyFromSeed(id.PrivateKey), msg)
}

// Verify checks sig over msg against a raw Ed25519 public key.
func Verify(public, msg, sig []byte) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), msg, sig)
}

// PublicBase64 exports the identity public key the way the wire carries it.
func (id *Identity) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(id.PublicKey)
}

// Marshal serializes the identity for the vault.
func (id *Identity) Marshal() ([]byte, error) {
	return json.Marshal(id)
}

// Load deserializes a vault identity record.
func Load(data []byte) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("deserializing identity: %w", err)
	}
	if len(id.PrivateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: bad identity seed length", ErrInvalidKey)
	}
	return &id, nil
}
