// Package storage сохраняет пространства и арену определений блоков в
// BadgerDB. Снимки кодируются схемой SpaceV1/UniverseV1 (JSON со сжатыми
// zstd массивами).
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/world/block"
	"github.com/annel0/voxel-core/internal/world/space"
)

var (
	// ErrNotFound запрошенный объект не сохранён
	ErrNotFound = errors.New("storage: not found")
	// ErrClosed хранилище закрыто
	ErrClosed = errors.New("storage: closed")
)

const (
	spaceKeyPrefix = "space:"
	universeKey    = "universe"
)

// SpaceStore хранилище пространств
type SpaceStore struct {
	db      *badger.DB
	dbPath  string
	logger  *logging.Logger
	mutex   sync.RWMutex
	isReady bool
}

// NewSpaceStore открывает хранилище в каталоге dataPath/spaces
func NewSpaceStore(dataPath string, logger *logging.Logger) (*SpaceStore, error) {
	dbPath := filepath.Join(dataPath, "spaces")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &SpaceStore{
		db:      db,
		dbPath:  dbPath,
		logger:  logger,
		isReady: true,
	}, nil
}

// Path каталог базы
func (ss *SpaceStore) Path() string {
	return ss.dbPath
}

// Close закрывает хранилище данных
func (ss *SpaceStore) Close() error {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if !ss.isReady {
		return nil
	}

	ss.isReady = false
	return ss.db.Close()
}

func spaceKey(id uuid.UUID) []byte {
	return []byte(spaceKeyPrefix + id.String())
}

func (ss *SpaceStore) put(key []byte, data []byte) error {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return ErrClosed
	}
	err := ss.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (ss *SpaceStore) get(key []byte) ([]byte, error) {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return nil, ErrClosed
	}
	var data []byte
	err := ss.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// SaveSnapshot сохраняет снимок пространства
func (ss *SpaceStore) SaveSnapshot(snap space.Snapshot) error {
	data, err := EncodeSpace(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации пространства: %w", err)
	}
	if err := ss.put(spaceKey(snap.ID), data); err != nil {
		return err
	}
	ss.logger.Debug("пространство %s сохранено (%d байт)", snap.ID, len(data))
	return nil
}

// SaveSpace сохраняет текущее состояние пространства
func (ss *SpaceStore) SaveSpace(s *space.Space) error {
	return ss.SaveSnapshot(s.Snapshot())
}

// LoadSnapshot читает снимок пространства
func (ss *SpaceStore) LoadSnapshot(id uuid.UUID) (space.Snapshot, error) {
	data, err := ss.get(spaceKey(id))
	if err != nil {
		return space.Snapshot{}, err
	}
	snap, err := DecodeSpace(data)
	if err != nil {
		return space.Snapshot{}, fmt.Errorf("пространство %s: %w", id, err)
	}
	return snap, nil
}

// LoadSpace восстанавливает пространство; сохранённый свет не пересчитывается
func (ss *SpaceStore) LoadSpace(ctx context.Context, id uuid.UUID, cache *block.Cache, opts space.Options) (*space.Space, error) {
	snap, err := ss.LoadSnapshot(id)
	if err != nil {
		return nil, err
	}
	return space.FromSnapshot(ctx, snap, cache, opts)
}

// DeleteSpace удаляет пространство
func (ss *SpaceStore) DeleteSpace(id uuid.UUID) error {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return ErrClosed
	}
	key := spaceKey(id)
	return ss.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// ListSpaces возвращает идентификаторы сохранённых пространств
func (ss *SpaceStore) ListSpaces() ([]uuid.UUID, error) {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return nil, ErrClosed
	}
	var ids []uuid.UUID
	err := ss.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(spaceKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id, err := uuid.Parse(strings.TrimPrefix(key, spaceKeyPrefix))
			if err != nil {
				ss.logger.Warn("пропущен некорректный ключ %q: %v", key, err)
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// SaveUniverse сохраняет определения и сетки
func (ss *SpaceStore) SaveUniverse(u *block.Universe) error {
	data, err := EncodeUniverse(u.Export())
	if err != nil {
		return fmt.Errorf("ошибка сериализации арены: %w", err)
	}
	return ss.put([]byte(universeKey), data)
}

// LoadUniverse загружает сохранённые определения в пустую арену u
func (ss *SpaceStore) LoadUniverse(u *block.Universe) error {
	raw, err := ss.get([]byte(universeKey))
	if err != nil {
		return err
	}
	data, err := DecodeUniverse(raw)
	if err != nil {
		return err
	}
	return u.Import(data)
}
