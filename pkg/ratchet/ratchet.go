// Package ratchet implements the session core: hybrid X3DH+PQ
// establishment and a Double Ratchet engine with header encryption, a
// bounded skipped-message cache, and a cross-party continuity hash.
package ratchet

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/entropy-org/entropy/internal/enigma"
	"github.com/entropy-org/entropy/pkg/exchange"
)

// MaxSkip bounds how many message keys one skip over a receiving chain may
// derive and how many may sit cached per receiving chain. A decrypt that
// triggers a DH step skips on both the old and the new chain.
const MaxSkip = 100

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownHeader     = errors.New("cannot decrypt message header")
	ErrTooManySkipped    = errors.New("too many messages to skip")
	ErrReplay            = errors.New("message key already consumed")
	ErrContinuityBreak   = errors.New("CONTINUITY_BREAK")
)

// Encrypt advances the sending chain and produces a wire envelope. When the
// sending chain is empty, the deferred DH ratchet step runs first.
func (s *Session) Encrypt(plaintext []byte) (*Envelope, error) {
	if len(s.SendChainKey) == 0 {
		if err := s.sendRatchetStep(); err != nil {
			return nil, err
		}
	}

	ck, mk := enigma.ChainKDF(s.SendChainKey)

	cipher, err := enigma.NewEnigma(mk)
	if err != nil {
		return nil, fmt.Errorf("message cipher: %w", err)
	}
	body, nonce := cipher.Seal(enigma.Pad(plaintext))

	hdr, err := json.Marshal(header{
		RatchetKey: base64.StdEncoding.EncodeToString(s.SendRatchetPub),
		N:          s.NSend,
		PN:         s.PNSend,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling header: %w", err)
	}
	headerCipher, err := enigma.NewEnigma(s.SendHeaderKey)
	if err != nil {
		return nil, fmt.Errorf("header cipher: %w", err)
	}
	headerEnc, headerNonce := headerCipher.Seal(hdr)

	env := &Envelope{
		Type:        TypeWhisper,
		Body:        base64.StdEncoding.EncodeToString(body),
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		HeaderEnc:   base64.StdEncoding.EncodeToString(headerEnc),
		HeaderNonce: base64.StdEncoding.EncodeToString(headerNonce),
		LH:          s.LastRecvHash,
		EK:          base64.StdEncoding.EncodeToString(s.SendRatchetPub),
	}
	if s.NSend == 0 {
		env.Type = TypePreKey
	}
	// the KEM ciphertexts and identity announcement ride along until the
	// peer has demonstrably ratcheted
	if len(s.PQCt1) > 0 {
		env.PQ1 = base64.StdEncoding.EncodeToString(s.PQCt1)
		env.PQ2 = base64.StdEncoding.EncodeToString(s.PQCt2)
		env.IK = base64.StdEncoding.EncodeToString(s.LocalIdentityKey)
		env.PQIK = base64.StdEncoding.EncodeToString(s.LocalPQIdentityKey)
	}

	s.SendChainKey = ck
	s.LastSentHash = hex.EncodeToString(sum256(body))
	s.NSend++

	return env, nil
}

// Decrypt opens a wire envelope. It operates on a clone of the session and
// commits only on success, so a failed message never corrupts state.
func (s *Session) Decrypt(env *Envelope) ([]byte, error) {
	body, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedEnvelope, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedEnvelope, err)
	}

	c := s.Clone()

	hdr, err := c.decryptHeader(env)
	if err != nil {
		return nil, err
	}
	ratchetKey, err := base64.StdEncoding.DecodeString(hdr.RatchetKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ratchet key: %v", ErrMalformedEnvelope, err)
	}

	if mk, ok := c.Skipped[skippedKey(ratchetKey, hdr.N)]; ok {
		plaintext, err := openBody(mk, body, nonce)
		if err != nil {
			return nil, err
		}
		delete(c.Skipped, skippedKey(ratchetKey, hdr.N))
		c.LastRecvHash = hex.EncodeToString(sum256(body))
		*s = *c
		return plaintext, nil
	}

	stepped := false
	if !bytes.Equal(ratchetKey, c.RecvRatchetKey) {
		if err := c.recvRatchetStep(ratchetKey, hdr.PN); err != nil {
			return nil, err
		}
		stepped = true
	}

	if len(c.RecvChainKey) == 0 {
		return nil, fmt.Errorf("%w: no receiving chain", ErrInvalidState)
	}
	if hdr.N < c.NRecv {
		return nil, fmt.Errorf("%w: counter %d already passed", ErrReplay, hdr.N)
	}
	if err := c.skipMessageKeys(hdr.N); err != nil {
		return nil, err
	}

	ck, mk := enigma.ChainKDF(c.RecvChainKey)
	plaintext, err := openBody(mk, body, nonce)
	if err != nil {
		return nil, err
	}
	c.RecvChainKey = ck
	c.NRecv = hdr.N + 1

	// Continuity is only meaningful on the in-order path: skipped and
	// freshly ratcheted messages were sent before the peer could have
	// seen our latest ciphertext.
	if !stepped && env.LH != "" && c.LastSentHash != "" && env.LH != c.LastSentHash {
		return nil, ErrContinuityBreak
	}

	c.LastRecvHash = hex.EncodeToString(sum256(body))
	*s = *c
	return plaintext, nil
}

// sendRatchetStep performs the sending half of a DH ratchet round with a
// fresh ephemeral keypair. The header key for the outgoing chain is the one
// current before the step; the newly derived key takes effect next round.
func (s *Session) sendRatchetStep() error {
	if len(s.RecvRatchetKey) == 0 {
		return fmt.Errorf("%w: no remote ratchet key", ErrInvalidState)
	}
	if len(s.NextSendHeaderKey) > 0 {
		s.SendHeaderKey = s.NextSendHeaderKey
		s.NextSendHeaderKey = nil
	}

	dh, err := exchange.NewECDH()
	if err != nil {
		return fmt.Errorf("generating ratchet keypair: %w", err)
	}
	shared, err := dh.Exchange(s.RecvRatchetKey)
	if err != nil {
		return fmt.Errorf("ratchet exchange: %w", err)
	}
	rk, ck, nhk, err := kdfRoot(s.RootKey, shared)
	if err != nil {
		return err
	}
	if len(s.PQSharedSecret) > 0 {
		if rk, err = mixPQ(rk, s.PQSharedSecret); err != nil {
			return err
		}
		s.PQSharedSecret = nil
	}

	s.RootKey = rk
	s.SendChainKey = ck
	s.NextSendHeaderKey = nhk
	s.SendRatchetPriv = dh.MarshalPrivateKey()
	s.SendRatchetPub = dh.PublicKey
	return nil
}

// recvRatchetStep rolls the receiving chain onto the peer's new ratchet
// key and defers our own sending step to the next encrypt.
func (c *Session) recvRatchetStep(ratchetKey []byte, pn uint32) error {
	if len(c.RecvChainKey) > 0 {
		if err := c.skipMessageKeys(pn); err != nil {
			return err
		}
	}
	if len(c.NextRecvHeaderKey) > 0 {
		c.RecvHeaderKey = c.NextRecvHeaderKey
	}

	shared, err := exchange.X25519(c.SendRatchetPriv, ratchetKey)
	if err != nil {
		return fmt.Errorf("ratchet exchange: %w", err)
	}
	rk, ck, nhk, err := kdfRoot(c.RootKey, shared)
	if err != nil {
		return err
	}
	if len(c.PQSharedSecret) > 0 {
		if rk, err = mixPQ(rk, c.PQSharedSecret); err != nil {
			return err
		}
		c.PQSharedSecret = nil
		c.PQCt1, c.PQCt2 = nil, nil
	}

	c.RootKey = rk
	c.RecvChainKey = ck
	c.RecvRatchetKey = ratchetKey
	c.NextRecvHeaderKey = nhk
	c.PNSend = c.NSend
	c.NSend = 0
	c.NRecv = 0
	c.SendChainKey = nil
	return nil
}

// skipMessageKeys derives and caches message keys for counters
// [NRecv, until) on the current receiving chain.
func (c *Session) skipMessageKeys(until uint32) error {
	if until <= c.NRecv {
		return nil
	}
	count := int(until - c.NRecv)
	if count > MaxSkip {
		return fmt.Errorf("%w: gap of %d exceeds %d", ErrTooManySkipped, count, MaxSkip)
	}
	prefix := base64.StdEncoding.EncodeToString(c.RecvRatchetKey) + ":"
	cached := 0
	for k := range c.Skipped {
		if strings.HasPrefix(k, prefix) {
			cached++
		}
	}
	if cached+count > MaxSkip {
		return fmt.Errorf("%w: cache for this chain would exceed %d", ErrTooManySkipped, MaxSkip)
	}

	if c.Skipped == nil {
		c.Skipped = make(map[string][]byte, count)
	}
	for ; c.NRecv < until; c.NRecv++ {
		next, mk := enigma.ChainKDF(c.RecvChainKey)
		c.Skipped[skippedKey(c.RecvRatchetKey, c.NRecv)] = mk
		c.RecvChainKey = next
	}
	return nil
}

// decryptHeader tries the current header key, then the next-round key left
// by the last ratchet step.
func (c *Session) decryptHeader(env *Envelope) (*header, error) {
	headerEnc, err := base64.StdEncoding.DecodeString(env.HeaderEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedEnvelope, err)
	}
	headerNonce, err := base64.StdEncoding.DecodeString(env.HeaderNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: header nonce: %v", ErrMalformedEnvelope, err)
	}

	for _, key := range [][]byte{c.RecvHeaderKey, c.NextRecvHeaderKey} {
		if len(key) == 0 {
			continue
		}
		cipher, err := enigma.NewEnigma(key)
		if err != nil {
			return nil, fmt.Errorf("header cipher: %w", err)
		}
		plain, err := cipher.Open(headerEnc, headerNonce)
		if err != nil {
			continue
		}
		var h header
		if err := json.Unmarshal(plain, &h); err != nil {
			return nil, fmt.Errorf("%w: header payload: %v", ErrMalformedEnvelope, err)
		}
		if h.RatchetKey == "" {
			return nil, fmt.Errorf("%w: header has no ratchet key", ErrMalformedEnvelope)
		}
		return &h, nil
	}
	return nil, ErrUnknownHeader
}

func openBody(mk, body, nonce []byte) ([]byte, error) {
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
	return plaintext, nil
}

func sum256(b []byte) []byte {
	digest := sha256.Sum256(b)
	return digest[:]
}
