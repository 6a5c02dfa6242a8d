package entropy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/entropy-org/entropy/pkg/store"
)

// PendingMessage is a durably queued outbound message. The body is the
// already-encrypted envelope as JSON text; retry timing belongs to the
// host.
type PendingMessage struct {
	ID            string `json:"id"`
	RecipientHash string `json:"recipient_hash"`
	Body          string `json:"body"`
	Timestamp     uint64 `json:"timestamp"`
	Retries       uint32 `json:"retries"`
}

// SavePending upserts a queued message.
func (a *App) SavePending(msg *PendingMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	if msg.ID == "" {
		return fmt.Errorf("%w: pending message has no id", ErrMalformed)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serializing pending message: %w", err)
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.PendingBucket, []byte(msg.ID), data)
	})
}

// PendingMessages returns the whole queue, oldest first.
func (a *App) PendingMessages() ([]PendingMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	var msgs []PendingMessage
	err := a.store.Query(func(q store.Query) error {
		for _, v := range q.Iterate(store.PendingBucket) {
			var msg PendingMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("deserializing pending message: %w", err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, nil
}

// RemovePending deletes a queued message by id.
func (a *App) RemovePending(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Delete(store.PendingBucket, []byte(id))
	})
}
