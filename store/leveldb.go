package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
)

// Compile-time interface check.
var _ KV = (*LevelDB)(nil)

// schemaVersion tags the on-disk layout. Opening a database written by
// a newer version fails rather than risk misreading it.
const schemaVersion = 1

var versionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

// LevelDB is a KV backed by a goleveldb database.
type LevelDB struct {
	db   *leveldb.DB
	sync bool
}

// LevelDBOption configures a LevelDB store.
type LevelDBOption func(*levelDBConfig)

type levelDBConfig struct {
	readOnly bool
	noSync   bool
}

// ReadOnly opens an existing database without write access.
func ReadOnly() LevelDBOption {
	return func(c *levelDBConfig) { c.readOnly = true }
}

// NoSync skips the fsync after each applied changeset.
func NoSync() LevelDBOption {
	return func(c *levelDBConfig) { c.noSync = true }
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string, opts ...LevelDBOption) (*LevelDB, error) {
	var cfg levelDBConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := leveldb.OpenFile(path, &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: cfg.readOnly,
		ReadOnly:       cfg.readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	version, err := readVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	switch {
	case version > schemaVersion:
		db.Close()
		return nil, fmt.Errorf("store: database version %d is newer than supported version %d", version, schemaVersion)
	case version == 0 && !cfg.readOnly:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, schemaVersion)
		if err := db.Put(versionKey, buf, &ldb_opt.WriteOptions{Sync: true}); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: write version: %w", err)
		}
	}

	return &LevelDB{db: db, sync: !cfg.noSync}, nil
}

func readVersion(db *leveldb.DB) (uint32, error) {
	v, err := db.Get(versionKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read version: %w", err)
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("store: incompatible version length: expected 4, got %d", len(v))
	}
	return binary.BigEndian.Uint32(v), nil
}

func (l *LevelDB) Get(key []byte) ([]byte, bool, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get: %w", err)
	}
	return v, true, nil
}

func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := l.db.NewIterator(ldb_util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		// The iterator reuses its buffers between steps.
		if err := fn(clone(iter.Key()), clone(iter.Value())); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("store: iterate: %w", err)
	}
	return nil
}

func (l *LevelDB) Apply(cs *Changeset) error {
	batch := new(leveldb.Batch)
	for _, c := range cs.Changes() {
		switch c.Op {
		case OpPut:
			batch.Put(c.Key, c.Value)
		case OpDelete:
			batch.Delete(c.Key)
		}
	}
	if err := l.db.Write(batch, &ldb_opt.WriteOptions{Sync: l.sync}); err != nil {
		return fmt.Errorf("store: write batch: %w", err)
	}
	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
