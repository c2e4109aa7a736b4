package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an account id is not in the pool.
var ErrNotFound = errors.New("account not found")

// Store is the durable account pool. All mutations persist to the JSON file
// before they are visible; a failed write rolls the in-memory change back so
// memory and disk never diverge.
type Store struct {
	path string

	mu       sync.RWMutex
	accounts []Account

	watcher *fsnotify.Watcher
}

// NewStore loads the pool from path, starting empty if the file is absent.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.accounts = nil
			s.mu.Unlock()
			log.Printf("📦 Account file %s not found, starting with empty pool", s.path)
			return nil
		}
		return fmt.Errorf("reading account file: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("parsing account file: %w", err)
	}

	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	log.Printf("📦 Loaded %d accounts from %s", len(accounts), s.path)
	return nil
}

// Watch reloads the pool when the account file changes on disk, so edits
// made outside the API are picked up without a restart.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	base := filepath.Base(s.path)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					log.Printf("⚠️ Account file reload failed: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Account file watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one was started.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// persistLocked writes the pool to disk. Callers must hold s.mu.
// The write goes through a temp file + rename so a crash mid-write cannot
// leave a truncated pool behind.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing account file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing account file: %w", err)
	}
	return nil
}

func snapshot(accounts []Account) []Account {
	out := make([]Account, len(accounts))
	copy(out, accounts)
	return out
}

// List returns redacted account views in insertion order.
func (s *Store) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, 0, len(s.accounts))
	for i := range s.accounts {
		out = append(out, s.accounts[i].Redacted())
	}
	return out
}

// All returns unredacted copies in insertion order. For internal use by the
// credential lifecycle manager only; never expose these over HTTP.
func (s *Store) All() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.accounts)
}

// Get returns the unredacted account with the given id.
func (s *Store) Get(id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].ID == id {
			return s.accounts[i], nil
		}
	}
	return Account{}, ErrNotFound
}

// Active returns the account serving chat traffic. When no account carries
// the active flag the first by insertion order is treated as active.
func (s *Store) Active() (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].IsActive {
			return s.accounts[i], true
		}
	}
	if len(s.accounts) > 0 {
		return s.accounts[0], true
	}
	return Account{}, false
}

// Add creates a new account. The first account in an empty pool is
// activated automatically; the name defaults to an ordinal label.
func (s *Store) Add(refreshToken, clientID, clientSecret, profileARN, name string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("Account %d", len(s.accounts)+1)
	}

	acc := Account{
		ID:           uuid.New().String(),
		RefreshToken: refreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ProfileARN:   profileARN,
		Name:         name,
		IsActive:     len(s.accounts) == 0,
		CreatedAt:    time.Now().Format(time.RFC3339),
	}

	prev := snapshot(s.accounts)
	s.accounts = append(s.accounts, acc)
	if err := s.persistLocked(); err != nil {
		s.accounts = prev
		return Account{}, err
	}

	log.Printf("✅ Added account %s (ID: %s)", acc.Name, acc.ID)
	return acc, nil
}

// Delete removes an account. Deleting the active account re-activates the
// new first account so a non-empty pool always keeps exactly one active.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	prev := snapshot(s.accounts)
	wasActive := s.accounts[idx].IsActive
	name := s.accounts[idx].Name

	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	if wasActive && len(s.accounts) > 0 {
		s.accounts[0].IsActive = true
	}

	if err := s.persistLocked(); err != nil {
		s.accounts = prev
		return err
	}

	log.Printf("✅ Deleted account %s (ID: %s)", name, id)
	return nil
}

// Activate flips the active flag to the target account. The deactivate-all /
// activate-one sequence happens under the store mutex, so no reader can
// observe zero or two active accounts.
func (s *Store) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	prev := snapshot(s.accounts)
	for i := range s.accounts {
		s.accounts[i].IsActive = i == idx
	}

	if err := s.persistLocked(); err != nil {
		s.accounts = prev
		return err
	}

	log.Printf("✅ Activated account %s (ID: %s)", s.accounts[idx].Name, id)
	return nil
}

// RecordRefreshResult stores the outcome of a renewal attempt and, when the
// backend rotated the refresh credential, the replacement token. Rotation
// and bookkeeping land in one critical section so a concurrent renewal of
// the same account can never tear the update.
func (s *Store) RecordRefreshResult(id, status, rotatedRefreshToken string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Account{}, ErrNotFound
	}

	prev := snapshot(s.accounts)
	s.accounts[idx].LastRefreshTime = time.Now().Format(time.RFC3339)
	s.accounts[idx].LastRefreshStatus = status
	if rotatedRefreshToken != "" && rotatedRefreshToken != s.accounts[idx].RefreshToken {
		log.Printf("🔄 Rotating refresh token for account %s", s.accounts[idx].Name)
		s.accounts[idx].RefreshToken = rotatedRefreshToken
	}

	if err := s.persistLocked(); err != nil {
		s.accounts = prev
		return Account{}, err
	}
	return s.accounts[idx], nil
}

// Len returns the pool size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
