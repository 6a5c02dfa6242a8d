// Package group implements the sender-key group ratchet: each member owns
// a one-way symmetric chain plus a signing keypair, distributed to the
// group out of band. There is no DH step and no skipped-key cache;
// in-group messages decrypt in order only.
package group

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/ed25519"

	"github.com/entropy-org/entropy/internal/enigma"
)

const (
	DistributionType = "group_sender_key_distribution"
	MessageType      = "group_message"
)

var (
	ErrUnknownSender    = errors.New("no sender key for this member")
	ErrKeyIDMismatch    = errors.New("sender key id mismatch")
	ErrBadSignature     = errors.New("group message signature is not valid")
	ErrMalformedMessage = errors.New("malformed group message")
)

// SenderKey is one member's chain and signing key. The signing private key
// is only present on our own entry.
type SenderKey struct {
	KeyID       uint32 `json:"key_id"`
	ChainKey    []byte `json:"chain_key"`
	SignPublic  []byte `json:"signature_key_public"`
	SignPrivate []byte `json:"signature_key_private,omitempty"`
}

// State is the per-group record persisted in the vault.
type State struct {
	GroupID     string                `json:"group_id"`
	MySenderKey *SenderKey            `json:"my_sender_key"`
	Members     map[string]*SenderKey `json:"member_sender_keys,omitempty"`
}

// DistributionMessage carries a sender key to the rest of the group.
type DistributionMessage struct {
	Type               string `json:"type"`
	GroupID            string `json:"group_id"`
	KeyID              uint32 `json:"key_id"`
	ChainKey           string `json:"chain_key"`
	SignatureKeyPublic string `json:"signature_key_public"`
}

// Envelope is an encrypted group message.
type Envelope struct {
	Type      string `json:"type"`
	GroupID   string `json:"group_id"`
	KeyID     uint32 `json:"key_id"`
	Body      string `json:"body"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// NewState creates group state with a fresh sender key for ourselves.
func NewState(groupID string) (*State, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signature keypair: %w", err)
	}
	chain := make([]byte, 32)
	rand.Read(chain)
	var idBytes [4]byte
	rand.Read(idBytes[:])

	return &State{
		GroupID: groupID,
		MySenderKey: &SenderKey{
			KeyID:       binary.BigEndian.Uint32(idBytes[:]),
			ChainKey:    chain,
			SignPublic:  public,
			SignPrivate: private.Seed(),
		},
	}, nil
}

// DistributionMessage exports our sender key for out-of-band delivery.
func (st *State) DistributionMessage() *DistributionMessage {
	return &DistributionMessage{
		Type:               DistributionType,
		GroupID:            st.GroupID,
		KeyID:              st.MySenderKey.KeyID,
		ChainKey:           base64.StdEncoding.EncodeToString(st.MySenderKey.ChainKey),
		SignatureKeyPublic: base64.StdEncoding.EncodeToString(st.MySenderKey.SignPublic),
	}
}

// AddSender installs a member's distributed sender key.
func (st *State) AddSender(memberHash string, d *DistributionMessage) error {
	if d.Type != DistributionType || d.GroupID != st.GroupID {
		return fmt.Errorf("%w: wrong type or group", ErrMalformedMessage)
	}
	chain, err := base64.StdEncoding.DecodeString(d.ChainKey)
	if err != nil {
		return fmt.Errorf("%w: chain key: %v", ErrMalformedMessage, err)
	}
	signPub, err := base64.StdEncoding.DecodeString(d.SignatureKeyPublic)
	if err != nil {
		return fmt.Errorf("%w: signature key: %v", ErrMalformedMessage, err)
	}
	if st.Members == nil {
		st.Members = make(map[string]*SenderKey)
	}
	st.Members[memberHash] = &SenderKey{
		KeyID:      d.KeyID,
		ChainKey:   chain,
		SignPublic: signPub,
	}
	return nil
}

// Encrypt advances our chain one step and seals plaintext with the
// resulting message key, signing the ciphertext with our sender key.
func (st *State) Encrypt(plaintext []byte) (*Envelope, error) {
	next, mk := enigma.ChainKDF(st.MySenderKey.ChainKey)
	cipher, err := enigma.NewEnigma(mk)
	if err != nil {
		return nil, fmt.Errorf("message cipher: %w", err)
	}
	body, nonce := cipher.Seal(enigma.Pad(plaintext))
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(st.MySenderKey.SignPrivate), body)

	st.MySenderKey.ChainKey = next
	return &Envelope{
		Type:      MessageType,
		GroupID:   st.GroupID,
		KeyID:     st.MySenderKey.KeyID,
		Body:      base64.StdEncoding.EncodeToString(body),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Decrypt opens a message from the named member, advancing their chain.
func (st *State) Decrypt(senderHash string, env *Envelope) ([]byte, error) {
	sk, ok := st.Members[senderHash]
	if !ok {
		return nil, ErrUnknownSender
	}
	if env.KeyID != sk.KeyID {
		return nil, ErrKeyIDMismatch
	}
	body, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedMessage, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedMessage, err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedMessage, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(sk.SignPublic), body, sig) {
		return nil, ErrBadSignature
	}

	next, mk := enigma.ChainKDF(sk.ChainKey)
	cipher, err := enigma.NewEnigma(mk)
	if err != nil {
		return nil, fmt.Errorf("message cipher: %w", err)
	}
	padded, err := cipher.Open(body, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := enigma.Unpad(padded)
	if err != nil {
		return nil, err
	}

	sk.ChainKey = next
	return plaintext, nil
}

// Marshal serializes the group state for the vault.
func (st *State) Marshal() ([]byte, error) {
	return json.Marshal(st)
}

// LoadState deserializes a vault group record.
func LoadState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("deserializing group state: %w", err)
	}
	if st.MySenderKey == nil {
		return nil, fmt.Errorf("%w: missing own sender key", ErrMalformedMessage)
	}
	return &st, nil
}
