package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"vpn-bot/internal/domain"
)

var (
	// ErrStoreCorrupt indica que el archivo de usuarios existe pero no se puede interpretar.
	ErrStoreCorrupt = errors.New("user store corrupt")
	// ErrStoreLocked indica que otro proceso ya tiene abierto el archivo de usuarios.
	ErrStoreLocked = errors.New("user store locked by another process")
)

// UserStore es el unico duenio del mapa de usuarios persistido en JSON.
// Todas las lecturas y escrituras pasan por el mismo mutex, de modo que cada
// ciclo leer-modificar-guardar se ejecuta sin intercalarse con otro.
type UserStore struct {
	mu    sync.Mutex
	path  string
	users map[int64]domain.UserRecord
	lock  *fileLock
}

// OpenUserStore bloquea el archivo para este proceso y carga su contenido.
func OpenUserStore(path string) (*UserStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	lock, err := acquireFileLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	users, err := LoadUsers(path)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	return &UserStore{path: path, users: users, lock: lock}, nil
}

// Close libera el bloqueo del archivo.
func (s *UserStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lock.release()
	s.lock = nil
	return err
}

// Path devuelve la ruta del archivo persistido.
func (s *UserStore) Path() string {
	return s.path
}

// Get devuelve una copia del registro del usuario, si existe.
func (s *UserStore) Get(userID int64) (domain.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.UserRecord{}, false
	}
	return u.Clone(), true
}

// Snapshot devuelve una copia completa del estado actual.
func (s *UserStore) Snapshot() map[int64]domain.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUsers(s.users)
}

// View ejecuta fn con el mapa vivo bajo el lock; fn no debe modificarlo.
func (s *UserStore) View(fn func(users map[int64]domain.UserRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.users)
}

// Update ejecuta un ciclo leer-modificar-guardar completo bajo el lock.
// fn trabaja sobre una copia; si devuelve changed=true la copia se persiste y
// solo entonces reemplaza el estado en memoria.
func (s *UserStore) Update(fn func(users map[int64]domain.UserRecord) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := cloneUsers(s.users)
	changed, err := fn(draft)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := SaveUsers(s.path, draft); err != nil {
		return err
	}
	s.users = draft
	return nil
}

// LoadUsers lee el archivo de usuarios. Un archivo inexistente es un store vacio.
func LoadUsers(path string) (map[int64]domain.UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[int64]domain.UserRecord), nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var raw map[string]domain.UserRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	users := make(map[int64]domain.UserRecord, len(raw))
	owners := make(map[string]int64, len(raw))
	for key, rec := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid user id %q", ErrStoreCorrupt, key)
		}
		if rec.Profile != nil {
			if other, dup := owners[rec.Profile.Address]; dup {
				return nil, fmt.Errorf("%w: address %s assigned to users %d and %d", ErrStoreCorrupt, rec.Profile.Address, other, id)
			}
			owners[rec.Profile.Address] = id
		}
		users[id] = rec
	}
	return users, nil
}

// SaveUsers escribe el mapa completo en un archivo temporal del mismo directorio
// y lo renombra sobre el destino.
func SaveUsers(path string, users map[int64]domain.UserRecord) (err error) {
	raw := make(map[string]domain.UserRecord, len(users))
	for id, u := range users {
		raw[strconv.FormatInt(id, 10)] = u
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "users_*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename users file: %w", err)
	}
	return nil
}

func cloneUsers(users map[int64]domain.UserRecord) map[int64]domain.UserRecord {
	out := make(map[int64]domain.UserRecord, len(users))
	for id, u := range users {
		out[id] = u.Clone()
	}
	return out
}
