package ratchet

import (
	"encoding/base64"
	"fmt"

	"github.com/entropy-org/entropy/internal/enigma"
	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/exchange"
)

// HKDF labels. The header labels are swapped between initiator and
// responder so each side's send key matches the other's receive key.
const (
	infoX3DH       = "EntropyV1 X3DH+PQ"
	infoRatchet    = "EntropyV1 Ratchet"
	infoPQMix      = "EntropyV1 PQ Mix"
	infoHeaderSend = "EntropyV1 HeaderSend"
	infoHeaderRecv = "EntropyV1 HeaderRecv"
)

// EstablishOutbound runs the initiator half of the hybrid X3DH+PQ handshake
// against a remote pre-key bundle. The returned session has a live sending
// chain; the KEM ciphertexts ride on the first messages.
func EstablishOutbound(id *attest.Identity, bundle *attest.PreKeyBundle) (*Session, error) {
	ikPriv, err := exchange.EdPrivateToX25519(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("converting identity private: %w", err)
	}
	remoteIK, err := base64.StdEncoding.DecodeString(bundle.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key: %v", ErrMalformedEnvelope, err)
	}
	remoteIKx, err := exchange.EdPublicToX25519(remoteIK)
	if err != nil {
		return nil, fmt.Errorf("converting remote identity: %w", err)
	}
	remoteSPK, err := base64.StdEncoding.DecodeString(bundle.SignedPreKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signed pre-key: %v", ErrMalformedEnvelope, err)
	}
	remotePQIK, err := base64.StdEncoding.DecodeString(bundle.PQIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: pq identity key: %v", ErrMalformedEnvelope, err)
	}
	remotePQSPK, err := base64.StdEncoding.DecodeString(bundle.SignedPreKey.PQPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: pq pre-key: %v", ErrMalformedEnvelope, err)
	}

	ek, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral: %w", err)
	}

	dh1, err := exchange.X25519(ikPriv, remoteSPK)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := ek.Exchange(remoteIKx)
	if err != nil {
		return nil, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := ek.Exchange(remoteSPK)
	if err != nil {
		return nil, fmt.Errorf("dh3: %w", err)
	}

	km := make([]byte, 0, 6*32)
	km = append(km, dh1...)
	km = append(km, dh2...)
	km = append(km, dh3...)

	if len(bundle.PreKeys) > 0 {
		opk, err := base64.StdEncoding.DecodeString(bundle.PreKeys[0].PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: one-time pre-key: %v", ErrMalformedEnvelope, err)
		}
		dh4, err := ek.Exchange(opk)
		if err != nil {
			return nil, fmt.Errorf("dh4: %w", err)
		}
		km = append(km, dh4...)
	}

	ct1, ss1, err := exchange.KyberEncapsulate(remotePQIK)
	if err != nil {
		return nil, fmt.Errorf("encapsulating to identity: %w", err)
	}
	ct2, ss2, err := exchange.KyberEncapsulate(remotePQSPK)
	if err != nil {
		return nil, fmt.Errorf("encapsulating to pre-key: %w", err)
	}
	km = append(km, ss1...)
	km = append(km, ss2...)

	rk0, err := enigma.Derive(km, nil, []byte(infoX3DH), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving initial root: %w", err)
	}
	hkSend, hkRecv, err := headerKeys(rk0, false)
	if err != nil {
		return nil, err
	}
	rk1, ckSend, _, err := kdfRoot(rk0, dh3)
	if err != nil {
		return nil, err
	}

	return &Session{
		RemoteIdentityKey:   remoteIK,
		RemotePQIdentityKey: remotePQIK,
		LocalIdentityKey:    id.PublicKey,
		LocalPQIdentityKey:  id.PQPublicKey,
		RootKey:             rk1,
		SendChainKey:        ckSend,
		SendRatchetPriv:     ek.MarshalPrivateKey(),
		SendRatchetPub:      ek.PublicKey,
		SendHeaderKey:       hkSend,
		RecvRatchetKey:      remoteSPK,
		RecvHeaderKey:       hkRecv,
		PQCt1:               ct1,
		PQCt2:               ct2,
		PQSharedSecret:      append(append([]byte{}, ss1...), ss2...),
	}, nil
}

// EstablishInbound runs the responder half from the first PreKey message.
// It consumes the oldest one-time pre-key when the pool is non-empty; the
// caller must persist the mutated identity alongside the new session.
func EstablishInbound(id *attest.Identity, env *Envelope) (*Session, error) {
	if env.IK == "" || env.EK == "" || env.PQ1 == "" || env.PQ2 == "" {
		return nil, fmt.Errorf("%w: pre-key message is missing handshake fields", ErrMalformedEnvelope)
	}
	remoteIK, err := base64.StdEncoding.DecodeString(env.IK)
	if err != nil {
		return nil, fmt.Errorf("%w: ik: %v", ErrMalformedEnvelope, err)
	}
	remoteEK, err := base64.StdEncoding.DecodeString(env.EK)
	if err != nil {
		return nil, fmt.Errorf("%w: ek: %v", ErrMalformedEnvelope, err)
	}
	ct1, err := base64.StdEncoding.DecodeString(env.PQ1)
	if err != nil {
		return nil, fmt.Errorf("%w: pq1: %v", ErrMalformedEnvelope, err)
	}
	ct2, err := base64.StdEncoding.DecodeString(env.PQ2)
	if err != nil {
		return nil, fmt.Errorf("%w: pq2: %v", ErrMalformedEnvelope, err)
	}
	var remotePQIK []byte
	if env.PQIK != "" {
		if remotePQIK, err = base64.StdEncoding.DecodeString(env.PQIK); err != nil {
			return nil, fmt.Errorf("%w: pq_ik: %v", ErrMalformedEnvelope, err)
		}
	}

	remoteIKx, err := exchange.EdPublicToX25519(remoteIK)
	if err != nil {
		return nil, fmt.Errorf("converting remote identity: %w", err)
	}
	ikPriv, err := exchange.EdPrivateToX25519(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("converting identity private: %w", err)
	}
	spk := id.SignedPreKey

	dh1, err := exchange.X25519(spk.PrivateKey, remoteIKx)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := exchange.X25519(ikPriv, remoteEK)
	if err != nil {
		return nil, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := exchange.X25519(spk.PrivateKey, remoteEK)
	if err != nil {
		return nil, fmt.Errorf("dh3: %w", err)
	}

	km := make([]byte, 0, 6*32)
	km = append(km, dh1...)
	km = append(km, dh2...)
	km = append(km, dh3...)

	usedPreKey := len(id.OneTimePreKeys) > 0
	if usedPreKey {
		dh4, err := exchange.X25519(id.OneTimePreKeys[0].PrivateKey, remoteEK)
		if err != nil {
			return nil, fmt.Errorf("dh4: %w", err)
		}
		km = append(km, dh4...)
	}

	ss1, err := exchange.KyberDecapsulate(id.PQPrivateKey, ct1)
	if err != nil {
		return nil, fmt.Errorf("decapsulating identity ciphertext: %w", err)
	}
	ss2, err := exchange.KyberDecapsulate(spk.PQPrivateKey, ct2)
	if err != nil {
		return nil, fmt.Errorf("decapsulating pre-key ciphertext: %w", err)
	}
	km = append(km, ss1...)
	km = append(km, ss2...)

	rk0, err := enigma.Derive(km, nil, []byte(infoX3DH), 32)
	if err != nil {
		return nil, fmt.Errorf("deriving initial root: %w", err)
	}
	hkSend, hkRecv, err := headerKeys(rk0, true)
	if err != nil {
		return nil, err
	}
	rk1, ckRecv, _, err := kdfRoot(rk0, dh3)
	if err != nil {
		return nil, err
	}

	if usedPreKey {
		if _, err := id.ConsumeOneTimePreKey(); err != nil {
			return nil, err
		}
	}

	return &Session{
		RemoteIdentityKey:   remoteIK,
		RemotePQIdentityKey: remotePQIK,
		LocalIdentityKey:    id.PublicKey,
		LocalPQIdentityKey:  id.PQPublicKey,
		RootKey:             rk1,
		SendRatchetPriv:     spk.PrivateKey,
		SendRatchetPub:      spk.PublicKey,
		SendHeaderKey:       hkSend,
		RecvChainKey:        ckRecv,
		RecvRatchetKey:      remoteEK,
		RecvHeaderKey:       hkRecv,
		PQSharedSecret:      append(append([]byte{}, ss1...), ss2...),
	}, nil
}

// headerKeys derives the initial header keys from the first root. The
// responder takes the labels in flipped slots.
func headerKeys(rk0 []byte, responder bool) (hkSend, hkRecv []byte, err error) {
	send, err := enigma.Derive(rk0, nil, []byte(infoHeaderSend), 32)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving send header key: %w", err)
	}
	recv, err := enigma.Derive(rk0, nil, []byte(infoHeaderRecv), 32)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving recv header key: %w", err)
	}
	if responder {
		return recv, send, nil
	}
	return send, recv, nil
}

// kdfRoot mixes a DH output into the root, producing the next root key, a
// chain key, and the header key for the following round.
func kdfRoot(root, dh []byte) (newRoot, chain, headerKey []byte, err error) {
	okm, err := enigma.Derive(dh, root, []byte(infoRatchet), 96)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("kdf root: %w", err)
	}
	return okm[:32], okm[32:64], okm[64:96], nil
}

// mixPQ folds the hybrid KEM secret into the root. Done exactly once per
// session, on the first post-handshake DH ratchet round.
func mixPQ(root, pqSecret []byte) ([]byte, error) {
	mixed, err := enigma.Derive(pqSecret, root, []byte(infoPQMix), 32)
	if err != nil {
		return nil, fmt.Errorf("pq mix: %w", err)
	}
	return mixed, nil
}
