// Package persist saves committed records and root calls to a badger
// database and loads them back.
package persist

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hanpama/graphcache/internal/store"
)

var (
	recordPrefix   = []byte("r/")
	rootCallPrefix = []byte("c/")
)

// rootCallSep separates the storage key from the identifying value.
const rootCallSep = "\x00"

type Options struct {
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type Option func(*Options)

// InMemory keeps the database in memory; the path is ignored.
func InMemory() Option {
	return func(o *Options) { o.InMemory = true }
}

func WithSyncWrites() Option {
	return func(o *Options) { o.SyncWrites = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Snapshot is a badger database holding one saved cache.
type Snapshot struct {
	db *badger.DB
}

func Open(path string, opts ...Option) (*Snapshot, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	badgerOpts := badger.DefaultOptions(path)
	if o.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if o.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if o.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(slogLogger{o.Logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return &Snapshot{db: db}, nil
}

func (s *Snapshot) Close() error { return s.db.Close() }

// Save replaces the saved records and root calls.
func (s *Snapshot) Save(records *store.RecordMap, rootCalls *store.RootCallMap) error {
	snaps, err := records.Snapshot()
	if err != nil {
		return err
	}
	if err := s.db.DropPrefix(recordPrefix, rootCallPrefix); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, snap := range snaps {
		data, err := encodeRecord(snap)
		if err != nil {
			return err
		}
		if err := wb.Set(recordKey(snap.ID), data); err != nil {
			return err
		}
	}
	for _, e := range rootCalls.Entries() {
		key := append(append([]byte{}, rootCallPrefix...), e.StorageKey+rootCallSep+e.IdentifyingValue...)
		if err := wb.Set(key, []byte(e.DataID)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load replaces the contents of records with the saved records and adds
// the saved root calls to rootCalls.
func (s *Snapshot) Load(records *store.RecordMap, rootCalls *store.RootCallMap) error {
	var snaps []store.RecordSnapshot
	var calls []store.RootCall
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts(recordPrefix))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(recordPrefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snap, err := decodeRecord(id, data)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}

		ct := txn.NewIterator(iterOpts(rootCallPrefix))
		defer ct.Close()
		for ct.Rewind(); ct.Valid(); ct.Next() {
			item := ct.Item()
			key, value, ok := strings.Cut(string(item.Key()[len(rootCallPrefix):]), rootCallSep)
			if !ok {
				return fmt.Errorf("malformed root call key %q", item.Key())
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			calls = append(calls, store.RootCall{StorageKey: key, IdentifyingValue: value, DataID: string(id)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := records.Restore(snaps); err != nil {
		return err
	}
	for _, c := range calls {
		rootCalls.PutDataID(c.StorageKey, c.IdentifyingValue, c.DataID)
	}
	return nil
}

func recordKey(id string) []byte {
	return append(append([]byte{}, recordPrefix...), id...)
}

func iterOpts(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = prefix
	return opts
}

// slogLogger adapts slog to badger's logger. Badger's info output is
// logged at debug level.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Errorf(f string, v ...any)   { s.l.Error(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (s slogLogger) Warningf(f string, v ...any) { s.l.Warn(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (s slogLogger) Infof(f string, v ...any)    { s.l.Debug(strings.TrimSpace(fmt.Sprintf(f, v...))) }
func (s slogLogger) Debugf(f string, v ...any)   { s.l.Debug(strings.TrimSpace(fmt.Sprintf(f, v...))) }
