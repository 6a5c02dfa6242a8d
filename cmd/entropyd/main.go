// Package main implements a daemon wrapper for the entropy core. It
// exposes the protocol command surface as a JSON-over-stdio protocol for
// integration with host applications.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/entropy-org/entropy"
	"github.com/entropy-org/entropy/pkg/fingerprint"
	"github.com/entropy-org/entropy/pkg/group"
	"github.com/entropy-org/entropy/pkg/media"
	"github.com/entropy-org/entropy/pkg/ratchet"
	"github.com/entropy-org/entropy/pkg/sealed"
)

// Command represents an incoming command from stdin.
type Command struct {
	Cmd    string          `json:"cmd"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the tagged result written to stdout.
type Response struct {
	ID     string    `json:"id"`
	OK     bool      `json:"ok"`
	Result any       `json:"result,omitempty"`
	Error  *CmdError `json:"error,omitempty"`
}

type CmdError struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app, err := entropy.New()
	if err != nil {
		slog.Error("starting entropyd", slog.Any("error", err))
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			respond(out, Response{OK: false, Error: &CmdError{
				Tag: "Malformed", Message: err.Error(),
			}})
			continue
		}
		result, err := dispatch(app, &cmd)
		if err != nil {
			respond(out, Response{ID: cmd.ID, OK: false, Error: &CmdError{
				Tag: entropy.Classify(err), Message: err.Error(),
			}})
			continue
		}
		respond(out, Response{ID: cmd.ID, OK: true, Result: result})
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading stdin", slog.Any("error", err))
	}
	if err := app.Close(); err != nil {
		slog.Error("closing vault", slog.Any("error", err))
	}
}

func respond(out *json.Encoder, resp Response) {
	if err := out.Encode(resp); err != nil {
		slog.Error("writing response", slog.Any("error", err))
	}
}

func dispatch(app *entropy.App, cmd *Command) (any, error) {
	switch cmd.Cmd {
	case "init_vault":
		var p struct {
			Passphrase string `json:"passphrase"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.InitVault(p.Passphrase)

	case "nuclear_reset":
		return nil, app.NuclearReset()

	case "protocol_init":
		return app.Init()

	case "protocol_establish_session":
		var p struct {
			RemoteHash string          `json:"remote_hash"`
			Bundle     json.RawMessage `json:"bundle"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.EstablishSession(p.RemoteHash, p.Bundle)

	case "protocol_encrypt":
		var p struct {
			RemoteHash string `json:"remote_hash"`
			Plaintext  string `json:"plaintext"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.Encrypt(p.RemoteHash, p.Plaintext)

	case "protocol_decrypt":
		var p struct {
			RemoteHash string          `json:"remote_hash"`
			Message    json.RawMessage `json:"message"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		env, err := ratchet.ParseEnvelope(p.Message)
		if err != nil {
			return nil, err
		}
		return app.Decrypt(p.RemoteHash, env)

	case "protocol_verify_session":
		var p struct {
			RemoteHash string `json:"remote_hash"`
			Verified   bool   `json:"verified"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.VerifySession(p.RemoteHash, p.Verified)

	case "protocol_sign":
		var p struct {
			Message string `json:"message"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.Sign(p.Message)

	case "protocol_get_identity_key":
		return app.IdentityKey()

	case "protocol_get_bundle":
		return app.PreKeyBundle()

	case "protocol_safety_number":
		var p struct {
			PeerKey string `json:"peer_key"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		number, err := app.SafetyNumber(p.PeerKey)
		if err != nil {
			return nil, err
		}
		key, err := base64.StdEncoding.DecodeString(p.PeerKey)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"safety_number": number,
			"emoji":         fingerprint.Emoji(key),
		}, nil

	case "protocol_encrypt_media":
		var p struct {
			Data     []byte `json:"data"`
			FileName string `json:"file_name"`
			FileType string `json:"file_type"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.EncryptMedia(p.Data, p.FileName, p.FileType)

	case "protocol_decrypt_media":
		var p struct {
			HexData string           `json:"hex_data"`
			Bundle  *media.KeyBundle `json:"bundle"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.DecryptMedia(p.HexData, p.Bundle)

	case "protocol_group_init":
		var p struct {
			GroupID string `json:"group_id"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.GroupInit(p.GroupID)

	case "protocol_group_add_sender":
		var p struct {
			GroupID      string                     `json:"group_id"`
			SenderHash   string                     `json:"sender_hash"`
			Distribution *group.DistributionMessage `json:"distribution"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.GroupAddSender(p.GroupID, p.SenderHash, p.Distribution)

	case "protocol_group_encrypt":
		var p struct {
			GroupID   string `json:"group_id"`
			Plaintext string `json:"plaintext"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.GroupEncrypt(p.GroupID, p.Plaintext)

	case "protocol_group_decrypt":
		var p struct {
			GroupID    string          `json:"group_id"`
			SenderHash string          `json:"sender_hash"`
			Message    *group.Envelope `json:"message"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.GroupDecrypt(p.GroupID, p.SenderHash, p.Message)

	case "protocol_seal":
		var p struct {
			RecipientKey   string          `json:"recipient_key"`
			RecipientPQKey string          `json:"recipient_pq_key"`
			Message        json.RawMessage `json:"message"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.SealMessage(p.RecipientKey, p.RecipientPQKey, p.Message)

	case "protocol_unseal":
		var p struct {
			Envelope *sealed.Envelope `json:"envelope"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.UnsealMessage(p.Envelope)

	case "protocol_get_pending":
		return app.PendingMessages()

	case "protocol_save_pending":
		var p struct {
			Message *entropy.PendingMessage `json:"msg"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.SavePending(p.Message)

	case "protocol_remove_pending":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.RemovePending(p.ID)

	case "protocol_save_message":
		var p struct {
			Message *entropy.StoredMessage `json:"msg"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.SaveMessage(p.Message)

	case "protocol_search_messages":
		var p struct {
			Query string `json:"query"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.SearchMessages(p.Query)

	case "protocol_blob_put":
		var p struct {
			ID   string `json:"id"`
			Data []byte `json:"data"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.BlobPut(p.ID, p.Data)

	case "protocol_blob_get":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.BlobGet(p.ID)

	case "protocol_blob_delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.BlobDelete(p.ID)

	case "protocol_export_vault":
		return app.ExportVault()

	case "protocol_import_vault":
		var p struct {
			Bytes []byte `json:"bytes"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.ImportVault(p.Bytes)

	case "vault_save":
		var p struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.VaultSave(p.Key, p.Value)

	case "vault_load":
		var p struct {
			Key string `json:"key"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.VaultLoad(p.Key)

	case "dump_vault":
		return app.DumpVault()

	case "restore_vault":
		var p struct {
			Data map[string]string `json:"data"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.RestoreVault(p.Data)

	case "clear_vault":
		return nil, app.ClearVault()

	case "store_secret":
		var p struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return nil, app.StoreSecret(p.Key, p.Value)

	case "get_secret":
		var p struct {
			Key string `json:"key"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		return app.GetSecret(p.Key)

	case "mine_pow":
		var p struct {
			Seed       string `json:"seed"`
			Difficulty uint32 `json:"difficulty"`
			Context    string `json:"context"`
		}
		if err := unmarshal(cmd.Params, &p); err != nil {
			return nil, err
		}
		nonce, hash, err := app.MinePoW(context.Background(), p.Seed, p.Difficulty, p.Context)
		if err != nil {
			return nil, err
		}
		return map[string]any{"nonce": nonce, "hash": hash}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", entropy.ErrMalformed, cmd.Cmd)
	}
}

func unmarshal(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: missing params", entropy.ErrMalformed)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", entropy.ErrMalformed, err)
	}
	return nil
}
