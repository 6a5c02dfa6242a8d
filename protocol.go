package entropy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/entropy-org/entropy/pkg/attest"
	"github.com/entropy-org/entropy/pkg/fingerprint"
	"github.com/entropy-org/entropy/pkg/ratchet"
	"github.com/entropy-org/entropy/pkg/sealed"
	"github.com/entropy-org/entropy/pkg/store"
)

// InitResult is what protocol_init reports back to the host.
type InitResult struct {
	RegistrationID uint32 `json:"registration_id"`
	Alias          string `json:"alias"`
}

// Init loads the installation identity, generating and persisting a fresh
// one on first launch.
func (a *App) Init() (*InitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	id, err := a.loadIdentity()
	if err == nil {
		return &InitResult{RegistrationID: id.RegistrationID, Alias: id.Alias}, nil
	}
	if Classify(err) != "NotFound" {
		return nil, err
	}

	id, err = attest.NewIdentity(fingerprint.Pseudonym())
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := a.saveIdentity(id); err != nil {
		return nil, err
	}
	return &InitResult{RegistrationID: id.RegistrationID, Alias: id.Alias}, nil
}

// EstablishSession runs the outbound handshake against a peer's pre-key
// bundle and stores the resulting session under the peer's hash.
func (a *App) EstablishSession(remoteHash string, bundleJSON []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}

	id, err := a.loadIdentity()
	if err != nil {
		return err
	}
	bundle, err := attest.ParseBundle(bundleJSON)
	if err != nil {
		return err
	}
	sess, err := ratchet.EstablishOutbound(id, bundle)
	if err != nil {
		return err
	}
	return a.saveSession(remoteHash, sess)
}

// Encrypt ratchets the session forward and produces a wire envelope.
func (a *App) Encrypt(remoteHash, plaintext string) (*ratchet.Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	sess, err := a.loadSession(remoteHash)
	if err != nil {
		return nil, err
	}
	env, err := sess.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}
	if err := a.saveSession(remoteHash, sess); err != nil {
		return nil, err
	}
	return env, nil
}

// Decrypt opens a wire envelope, lazily creating the session from a PreKey
// message when none exists yet. State is persisted only on success.
func (a *App) Decrypt(remoteHash string, env *ratchet.Envelope) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}

	sess, err := a.loadSession(remoteHash)
	var freshIdentity *attest.Identity
	if err != nil {
		if Classify(err) != "NotFound" || env.Type != ratchet.TypePreKey {
			return "", err
		}
		id, err := a.loadIdentity()
		if err != nil {
			return "", err
		}
		if sess, err = ratchet.EstablishInbound(id, env); err != nil {
			return "", err
		}
		// the handshake may have consumed a one-time pre-key
		freshIdentity = id
	}

	plaintext, err := sess.Decrypt(env)
	if err != nil {
		return "", err
	}
	if len(sess.VerifiedIdentityKey) > 0 {
		sess.IsVerified = bytes.Equal(sess.VerifiedIdentityKey, sess.RemoteIdentityKey)
	}

	if freshIdentity != nil {
		if err := a.saveIdentity(freshIdentity); err != nil {
			return "", err
		}
	}
	if err := a.saveSession(remoteHash, sess); err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// VerifySession records (or withdraws) the user's out-of-band verification
// of the peer's identity key.
func (a *App) VerifySession(remoteHash string, verified bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}

	sess, err := a.loadSession(remoteHash)
	if err != nil {
		return err
	}
	if verified {
		sess.VerifiedIdentityKey = append([]byte(nil), sess.RemoteIdentityKey...)
		sess.VerifiedAt = uint64(time.Now().Unix())
		sess.IsVerified = true
	} else {
		sess.IsVerified = false
	}
	return a.saveSession(remoteHash, sess)
}

// RemoveSession deletes a peer's session state.
func (a *App) RemoveSession(remoteHash string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Delete(store.VaultBucket, []byte(sessionKeyPrefix+remoteHash))
	})
}

// Sign signs a message with the long-term identity key.
func (a *App) Sign(message string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(id.Sign([]byte(message))), nil
}

// IdentityKey exports the identity public key as Base64.
func (a *App) IdentityKey() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return "", err
	}
	return id.PublicBase64(), nil
}

// PreKeyBundle exports the public bundle a directory serves on our behalf.
func (a *App) PreKeyBundle() (*attest.PreKeyBundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return nil, err
	}
	return id.Bundle(), nil
}

// SafetyNumber derives the symmetric fingerprint shared with a peer.
func (a *App) SafetyNumber(peerKey string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return "", err
	}
	return fingerprint.SafetyNumber(id.PublicBase64(), peerKey), nil
}

// SafetyNumberQR renders the safety number as a terminal QR code.
func (a *App) SafetyNumberQR(peerKey string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return nil, err
	}
	return fingerprint.QrCode([]byte(fingerprint.SafetyNumber(id.PublicBase64(), peerKey)))
}

// SealMessage wraps a payload for a recipient anonymously: the recipient
// learns the sender only after unsealing.
func (a *App) SealMessage(recipientIK, recipientPQIK string, message json.RawMessage) (*sealed.Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return nil, err
	}
	ik, err := base64.StdEncoding.DecodeString(recipientIK)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient key: %v", ErrMalformed, err)
	}
	pqik, err := base64.StdEncoding.DecodeString(recipientPQIK)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient pq key: %v", ErrMalformed, err)
	}
	return sealed.Seal(ik, pqik, id.PublicBase64(), message)
}

// UnsealMessage opens a sealed envelope addressed to this installation.
func (a *App) UnsealMessage(env *sealed.Envelope) (*sealed.Inner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	id, err := a.loadIdentity()
	if err != nil {
		return nil, err
	}
	return sealed.Unseal(id, env)
}

func (a *App) loadIdentity() (*attest.Identity, error) {
	var data []byte
	err := a.store.Query(func(q store.Query) error {
		var err error
		data, err = q.Get(store.VaultBucket, []byte(identityVaultKey))
		return err
	})
	if err != nil {
		return nil, err
	}
	return attest.Load(data)
}

func (a *App) saveIdentity(id *attest.Identity) error {
	data, err := id.Marshal()
	if err != nil {
		return fmt.Errorf("serializing identity: %w", err)
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.VaultBucket, []byte(identityVaultKey), data)
	})
}

func (a *App) loadSession(remoteHash string) (*ratchet.Session, error) {
	var data []byte
	err := a.store.Query(func(q store.Query) error {
		var err error
		data, err = q.Get(store.VaultBucket, []byte(sessionKeyPrefix+remoteHash))
		return err
	})
	if err != nil {
		return nil, err
	}
	return ratchet.LoadSession(data)
}

func (a *App) saveSession(remoteHash string, sess *ratchet.Session) error {
	data, err := sess.Marshal()
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.VaultBucket, []byte(sessionKeyPrefix+remoteHash), data)
	})
}
