package ratchet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
)

var ErrInvalidState = errors.New("invalid session state")

// Session is the per-peer Double Ratchet state. It serializes to JSON with
// Base64 binary fields and is persisted as a value in the vault; operations
// load it, mutate it, and store it back.
type Session struct {
	RemoteIdentityKey   []byte `json:"remote_identity_key"`
	RemotePQIdentityKey []byte `json:"remote_pq_identity_key,omitempty"`
	LocalIdentityKey    []byte `json:"local_identity_key,omitempty"`
	LocalPQIdentityKey  []byte `json:"local_pq_identity_key,omitempty"`
	VerifiedIdentityKey []byte `json:"verified_identity_key,omitempty"`
	VerifiedAt          uint64 `json:"verification_timestamp,omitempty"`
	IsVerified          bool   `json:"is_verified"`

	RootKey []byte `json:"root_key"`

	SendChainKey      []byte `json:"send_chain_key,omitempty"`
	SendRatchetPriv   []byte `json:"send_ratchet_priv"`
	SendRatchetPub    []byte `json:"send_ratchet_pub"`
	SendHeaderKey     []byte `json:"send_header_key"`
	NextSendHeaderKey []byte `json:"next_send_header_key,omitempty"`
	NSend             uint32 `json:"n_send"`
	PNSend            uint32 `json:"pn_send"`

	RecvChainKey      []byte `json:"recv_chain_key,omitempty"`
	RecvRatchetKey    []byte `json:"recv_ratchet_key,omitempty"`
	RecvHeaderKey     []byte `json:"recv_header_key"`
	NextRecvHeaderKey []byte `json:"next_recv_header_key,omitempty"`
	NRecv             uint32 `json:"n_recv"`

	// Skipped maps "<ratchet_pub_b64>:<n>" to a 32-byte message key.
	Skipped map[string][]byte `json:"skipped_message_keys,omitempty"`

	// KEM artifacts from the outbound handshake. The ciphertexts ride on
	// every message until the shared secret has been mixed into the root.
	PQCt1          []byte `json:"pq_ct1,omitempty"`
	PQCt2          []byte `json:"pq_ct2,omitempty"`
	PQSharedSecret []byte `json:"pq_shared_secret,omitempty"`

	LastSentHash string `json:"last_sent_hash,omitempty"`
	LastRecvHash string `json:"last_recv_hash,omitempty"`
}

// Marshal serializes the session for the vault.
func (s *Session) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// LoadSession deserializes a vault session record.
func LoadSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("deserializing session: %w", err)
	}
	if len(s.RootKey) == 0 {
		return nil, fmt.Errorf("%w: missing root key", ErrInvalidState)
	}
	if len(s.SendRatchetPriv) == 0 {
		return nil, fmt.Errorf("%w: missing ratchet keypair", ErrInvalidState)
	}
	return &s, nil
}

// Clone deep-copies the session. Decrypt works on a clone and commits it
// only on success, so failures never persist partial state.
func (s *Session) Clone() *Session {
	c := *s
	c.RemoteIdentityKey = copyBytes(s.RemoteIdentityKey)
	c.RemotePQIdentityKey = copyBytes(s.RemotePQIdentityKey)
	c.LocalIdentityKey = copyBytes(s.LocalIdentityKey)
	c.LocalPQIdentityKey = copyBytes(s.LocalPQIdentityKey)
	c.VerifiedIdentityKey = copyBytes(s.VerifiedIdentityKey)
	c.RootKey = copyBytes(s.RootKey)
	c.SendChainKey = copyBytes(s.SendChainKey)
	c.SendRatchetPriv = copyBytes(s.SendRatchetPriv)
	c.SendRatchetPub = copyBytes(s.SendRatchetPub)
	c.SendHeaderKey = copyBytes(s.SendHeaderKey)
	c.NextSendHeaderKey = copyBytes(s.NextSendHeaderKey)
	c.RecvChainKey = copyBytes(s.RecvChainKey)
	c.RecvRatchetKey = copyBytes(s.RecvRatchetKey)
	c.RecvHeaderKey = copyBytes(s.RecvHeaderKey)
	c.NextRecvHeaderKey = copyBytes(s.NextRecvHeaderKey)
	c.PQCt1 = copyBytes(s.PQCt1)
	c.PQCt2 = copyBytes(s.PQCt2)
	c.PQSharedSecret = copyBytes(s.PQSharedSecret)
	if s.Skipped != nil {
		c.Skipped = make(map[string][]byte, len(s.Skipped))
		maps.Copy(c.Skipped, s.Skipped)
	}
	return &c
}

// Established reports whether both chains have run at least once, meaning
// each side has spoken.
func (s *Session) Established() bool {
	return (len(s.SendChainKey) > 0 || s.NSend > 0 || s.PNSend > 0) &&
		len(s.RecvChainKey) > 0
}

func skippedKey(ratchetPub []byte, n uint32) string {
	return base64.StdEncoding.EncodeToString(ratchetPub) + ":" + strconv.FormatUint(uint64(n), 10)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
