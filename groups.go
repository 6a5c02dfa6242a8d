package entropy

import (
	"fmt"

	"github.com/entropy-org/entropy/pkg/group"
	"github.com/entropy-org/entropy/pkg/store"
)

// GroupInit creates group state with a fresh sender key and returns the
// distribution message to hand each member out of band.
func (a *App) GroupInit(groupID string) (*group.DistributionMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	st, err := group.NewState(groupID)
	if err != nil {
		return nil, err
	}
	if err := a.saveGroup(st); err != nil {
		return nil, err
	}
	return st.DistributionMessage(), nil
}

// GroupAddSender installs a member's distributed sender key.
func (a *App) GroupAddSender(groupID, memberHash string, dist *group.DistributionMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}

	st, err := a.loadGroup(groupID)
	if err != nil {
		return err
	}
	if err := st.AddSender(memberHash, dist); err != nil {
		return err
	}
	return a.saveGroup(st)
}

// GroupEncrypt seals a message to the group with our sender chain.
func (a *App) GroupEncrypt(groupID, plaintext string) (*group.Envelope, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, ErrNotInitialized
	}

	st, err := a.loadGroup(groupID)
	if err != nil {
		return nil, err
	}
	env, err := st.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}
	if err := a.saveGroup(st); err != nil {
		return nil, err
	}
	return env, nil
}

// GroupDecrypt opens a group message with the named sender's chain.
func (a *App) GroupDecrypt(groupID, senderHash string, env *group.Envelope) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return "", ErrNotInitialized
	}

	st, err := a.loadGroup(groupID)
	if err != nil {
		return "", err
	}
	plaintext, err := st.Decrypt(senderHash, env)
	if err != nil {
		return "", err
	}
	if err := a.saveGroup(st); err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GroupLeave drops the group state.
func (a *App) GroupLeave(groupID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return ErrNotInitialized
	}
	return a.store.Command(func(c store.Command) error {
		return c.Delete(store.GroupsBucket, []byte(groupID))
	})
}

func (a *App) loadGroup(groupID string) (*group.State, error) {
	var data []byte
	err := a.store.Query(func(q store.Query) error {
		var err error
		data, err = q.Get(store.GroupsBucket, []byte(groupID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return group.LoadState(data)
}

func (a *App) saveGroup(st *group.State) error {
	data, err := st.Marshal()
	if err != nil {
		return fmt.Errorf("serializing group state: %w", err)
	}
	return a.store.Command(func(c store.Command) error {
		return c.Put(store.GroupsBucket, []byte(st.GroupID), data)
	})
}
