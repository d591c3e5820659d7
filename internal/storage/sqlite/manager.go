package sqlite

import (
	"errors"
	"sync"

	"github.com/relves/groupsync/internal/storage"
)

// StoreManager manages one GroupStore per local account with caching.
type StoreManager struct {
	basePath string
	opts     []StoreOption
	stores   map[string]*GroupStore // accountID -> store
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager. opts are applied to every
// store it opens.
func NewStoreManager(basePath string, opts ...StoreOption) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		opts:     opts,
		stores:   make(map[string]*GroupStore),
	}
}

// GetStore returns the GroupStore for accountID, opening it on first use.
func (m *StoreManager) GetStore(accountID string) (*GroupStore, error) {
	m.mu.RLock()
	if store, ok := m.stores[accountID]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if store, ok := m.stores[accountID]; ok {
		return store, nil
	}

	store, err := OpenGroupStore(m.basePath, accountID, m.opts...)
	if err != nil {
		return nil, err
	}

	m.stores[accountID] = store
	return store, nil
}

// CloseAll closes all cached stores.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[string]*GroupStore)
	return errors.Join(errs...)
}

// BasePath returns the base path for account databases.
func (m *StoreManager) BasePath() string {
	return m.basePath
}

// GetMirrorStore returns the store for accountID as a storage.MirrorStore.
func (m *StoreManager) GetMirrorStore(accountID string) (storage.MirrorStore, error) {
	return m.GetStore(accountID)
}
