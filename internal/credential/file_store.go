package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/weiawesome/peace-chat/internal/domain"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
)

// FileStore keeps users in a JSON array file, the users.json format:
//
//	[{"username": "alice", "password": "...", "lastCleared": 1700000000000}]
//
// Writes replace the file atomically. With watching enabled, edits made by
// other processes are picked up.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	users   []domain.User
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewFileStore(path string, watch bool) (*FileStore, error) {
	s := &FileStore{path: filepath.Clean(path)}

	users, err := s.read()
	if err != nil {
		return nil, err
	}
	s.users = users

	if watch {
		if err := s.watch(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) read() ([]domain.User, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []domain.User{}, nil
	}

	var users []domain.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return users, nil
}

// write must be called with s.mu held.
func (s *FileStore) write(users []domain.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.users = users
	return nil
}

// The directory is watched rather than the file, since atomic replacement
// swaps the inode.
func (s *FileStore) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *FileStore) watchLoop() {
	defer close(s.done)
	l := pkglog.L()

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := s.reload(); err != nil {
				l.Warn().Err(err).Str("path", s.path).Msg("keeping previous users after failed reload")
				continue
			}
			l.Debug().Str("path", s.path).Msg("users file reloaded")

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			l.Warn().Err(err).Msg("users file watcher error")
		}
	}
}

func (s *FileStore) reload() error {
	users, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// indexOf must be called with s.mu held.
func (s *FileStore) indexOf(username string) int {
	key := normalize(username)
	for i := range s.users {
		if normalize(s.users[i].Username) == key {
			return i
		}
	}
	return -1
}

// clone copies the user slice so a failed write leaves s.users untouched.
func (s *FileStore) clone() []domain.User {
	out := make([]domain.User, len(s.users))
	copy(out, s.users)
	return out
}

func (s *FileStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(username)
	if i < 0 {
		return nil, ErrUserNotFound
	}
	u := s.users[i]
	return &u, nil
}

func (s *FileStore) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(user.Username) >= 0 {
		return ErrUsernameExists
	}
	return s.write(append(s.clone(), *user))
}

func (s *FileStore) UpdatePassword(_ context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(username)
	if i < 0 {
		return ErrUserNotFound
	}
	users := s.clone()
	users[i].Password = password
	return s.write(users)
}

func (s *FileStore) SetLastCleared(_ context.Context, username string, at int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(username)
	if i < 0 {
		return 0, ErrUserNotFound
	}
	if s.users[i].LastCleared >= at {
		return s.users[i].LastCleared, nil
	}
	users := s.clone()
	users[i].LastCleared = at
	if err := s.write(users); err != nil {
		return 0, err
	}
	return at, nil
}

func (s *FileStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(username)
	if i < 0 {
		return ErrUserNotFound
	}
	users := s.clone()
	users = append(users[:i], users[i+1:]...)
	return s.write(users)
}

func (s *FileStore) List(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clone(), nil
}

func (s *FileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}
