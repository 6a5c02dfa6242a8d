// Package sealed implements the anonymous sender envelope: an ephemeral
// X25519 exchange combined with a Kyber-1024 encapsulation to the
// recipient's identity keys, wrapping an inner message under AES-GCM.
package sealed

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entropy-org/entropy/internal/enigma"
	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/exchange"
)

var ErrMalformedEnvelope = errors.New("malformed sealed envelope")

// Envelope is the sealed wire format. All binary fields are Base64.
type Envelope struct {
	EphemeralPublic string `json:"ephemeral_public"`
	PQCt            string `json:"pq_ct"`
	Nonce           string `json:"nonce"`
	Ciphertext      string `json:"ciphertext"`
}

// Inner is the protected payload: the sender's identity and an opaque
// message, typically a ratchet envelope.
type Inner struct {
	Sender  string          `json:"sender"`
	Message json.RawMessage `json:"message"`
}

// Seal wraps message for the holder of the given identity keys. The
// recipient identity key is raw Ed25519; its X25519 form is derived here.
func Seal(recipientIK, recipientPQIK []byte, sender string, message json.RawMessage) (*Envelope, error) {
	ikx, err := exchange.EdPublicToX25519(recipientIK)
	if err != nil {
		return nil, fmt.Errorf("converting recipient identity: %w", err)
	}
	ek, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral: %w", err)
	}
	dh, err := ek.Exchange(ikx)
	if err != nil {
		return nil, fmt.Errorf("ephemeral exchange: %w", err)
	}
	ct, ss, err := exchange.KyberEncapsulate(recipientPQIK)
	if err != nil {
		return nil, fmt.Errorf("encapsulating: %w", err)
	}

	cipher, err := enigma.NewEnigma(combine(dh, ss))
	if err != nil {
		return nil, fmt.Errorf("sealing cipher: %w", err)
	}
	inner, err := json.Marshal(Inner{Sender: sender, Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshalling inner envelope: %w", err)
	}
	sealedCt, nonce := cipher.Seal(inner)

	return &Envelope{
		EphemeralPublic: base64.StdEncoding.EncodeToString(ek.PublicKey),
		PQCt:            base64.StdEncoding.EncodeToString(ct),
		Nonce:           base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:      base64.StdEncoding.EncodeToString(sealedCt),
	}, nil
}

// Unseal opens an envelope with the recipient's private identity material
// and recovers the sender identity and payload.
func Unseal(id *attest.Identity, env *Envelope) (*Inner, error) {
	ephemeral, err := base64.StdEncoding.DecodeString(env.EphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral: %v", ErrMalformedEnvelope, err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.PQCt)
	if err != nil {
		return nil, fmt.Errorf("%w: pq_ct: %v", ErrMalformedEnvelope, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedEnvelope, err)
	}
	sealedCt, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}

	scalar, err := exchange.EdPrivateToX25519(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("converting identity private: %w", err)
	}
	dh, err := exchange.X25519(scalar, ephemeral)
	if err != nil {
		return nil, fmt.Errorf("ephemeral exchange: %w", err)
	}
	ss, err := exchange.KyberDecapsulate(id.PQPrivateKey, ct)
	if err != nil {
		return nil, fmt.Errorf("decapsulating: %w", err)
	}

	cipher, err := enigma.NewEnigma(combine(dh, ss))
	if err != nil {
		return nil, fmt.Errorf("unsealing cipher: %w", err)
	}
	plain, err := cipher.Open(sealedCt, nonce)
	if err != nil {
		return nil, err
	}
	var inner Inner
	if err := json.Unmarshal(plain, &inner); err != nil {
		return nil, fmt.Errorf("%w: inner envelope: %v", ErrMalformedEnvelope, err)
	}
	return &inner, nil
}

func combine(dh, ss []byte) []byte {
	key := sha256.Sum256(append(append([]byte{}, dh...), ss...))
	return key[:]
}
