package repositories

import (
	"chat-sync/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const maxTxnRetries = 10

// Key layout. Every record is cbor encoded.
//
//	user:{id}                              userRecord
//	server:{id}                            serverRecord
//	channel:{id}                           channelRecord
//	member:{serverID}:{userID}             membershipRecord
//	thread:{id}                            threadRecord
//	threadpair:{userA}:{userB}             thread id, pair sorted
//	userthread:{userID}:{threadID}         empty
//	msg:{kind}:{roomID}:{%019d ts}:{id}    messageRecord
//	msgidx:{id}                            msg key
//	react:{messageID}:{userID}:{emoji}     reactionRecord
const (
	userPrefix       = "user:"
	serverPrefix     = "server:"
	channelPrefix    = "channel:"
	memberPrefix     = "member:"
	threadPrefix     = "thread:"
	threadPairPrefix = "threadpair:"
	userThreadPrefix = "userthread:"
	messagePrefix    = "msg:"
	messageIdxPrefix = "msgidx:"
	reactionPrefix   = "react:"
)

// Store implements the persistence contracts on top of badger.
type Store struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens (or creates) a badger database under path.
func Open(path string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return NewStore(db, log), nil
}

func NewStore(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) DB() *badger.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// update runs fn in a read-write transaction, retrying when another
// transaction committed a conflicting write first.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func getRecord(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decode(val, v)
	})
}

func setRecord(txn *badger.Txn, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// mustExist fails with ErrNotFound naming the first missing key.
func mustExist(txn *badger.Txn, keys ...string) error {
	for _, key := range keys {
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", key, errors.ErrNotFound)
		}
	}
	return nil
}

// scanPrefix calls fn for every key under prefix, in key order.
func scanPrefix(txn *badger.Txn, prefix string, withValues bool, fn func(key []byte, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = withValues
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		var val []byte
		if withValues {
			var err error
			if val, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}
