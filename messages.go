package entropy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/entropy-org/entropy/pkg/store"
)

const searchLimit = 100

// StoredMessage is a decrypted message kept in the local archive.
type StoredMessage struct {
	ID             string `json:"id"`
	PeerHash       string `json:"peerHash"`
	Timestamp      uint64 `json:"timestamp"`
	Content        string `json:"content"`
	SenderHash     string `json:"senderHash"`
	Type           string `json:"type"`
	IsMine         bool   `json:"isMine"`
	Status         string `json:"status"`
	ReplyToID      string `json:"replyToId,omitempty"`
	AttachmentJSON string `json:"attachment,omitempty"`
}

// SaveMessage archives a decrypted message and indexes it by peer.
func (a *App) SaveMessage(msg *StoredMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	if msg.ID == "" {
		return fmt.Errorf("%w: message has no id", ErrMalformed)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serializing message: %w", err)
	}
	return a.store.Command(func(c store.Command) error {
		if err := c.Put(store.MessagesBucket, []byte(msg.ID), data); err != nil {
			return err
		}
		return c.Put(store.PeerIndexBucket, peerIndexKey(msg.PeerHash, msg.ID), []byte(msg.ID))
	})
}

// MessagesForPeer returns the archived conversation with one peer, newest
// first.
func (a *App) MessagesForPeer(peerHash string) ([]StoredMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	var msgs []StoredMessage
	err := a.store.Query(func(q store.Query) error {
		prefix := string(peerIndexKey(peerHash, ""))
		for k, id := range q.Iterate(store.PeerIndexBucket) {
			if !strings.HasPrefix(string(k), prefix) {
				continue
			}
			data, err := q.Get(store.MessagesBucket, id)
			if err != nil {
				return err
			}
			var msg StoredMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("deserializing message: %w", err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp > msgs[j].Timestamp })
	return msgs, nil
}

// SearchMessages finds archived messages containing query, newest first,
// capped at 100 results.
func (a *App) SearchMessages(query string) ([]StoredMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	var msgs []StoredMessage
	err := a.store.Query(func(q store.Query) error {
		for _, v := range q.Iterate(store.MessagesBucket) {
			var msg StoredMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("deserializing message: %w", err)
			}
			if strings.Contains(msg.Content, query) {
				msgs = append(msgs, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp > msgs[j].Timestamp })
	if len(msgs) > searchLimit {
		msgs = msgs[:searchLimit]
	}
	return msgs, nil
}

// BlobPut stores an opaque blob by id.
func (a *App) BlobPut(id string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.BlobsBucket, []byte(id), data)
	})
}

// BlobGet fetches a blob by id.
func (a *App) BlobGet(id string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}
	var data []byte
	err := a.store.Query(func(q store.Query) error {
		var err error
		data, err = q.Get(store.BlobsBucket, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// BlobDelete removes a blob by id.
func (a *App) BlobDelete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Delete(store.BlobsBucket, []byte(id))
	})
}

func peerIndexKey(peerHash, id string) []byte {
	return append(append([]byte(peerHash), 0x00), id...)
}
