package repositories

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type userRecord struct {
	ID          string `cbor:"1,keyasint"`
	DisplayName string `cbor:"2,keyasint"`
	CreatedAt   int64  `cbor:"3,keyasint"`
}

type serverRecord struct {
	ID        string `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint"`
	OwnerID   string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

type channelRecord struct {
	ID        string `cbor:"1,keyasint"`
	ServerID  string `cbor:"2,keyasint"`
	Name      string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

type membershipRecord struct {
	JoinedAt int64 `cbor:"1,keyasint"`
}

type threadRecord struct {
	ID            string    `cbor:"1,keyasint"`
	Participants  [2]string `cbor:"2,keyasint"`
	CreatedAt     int64     `cbor:"3,keyasint"`
	LastMessageAt int64     `cbor:"4,keyasint"`
}

func (r userRecord) toDomain() domain.User {
	return domain.User{ID: r.ID, DisplayName: r.DisplayName, CreatedAt: fromNanos(r.CreatedAt)}
}

func (r threadRecord) toDomain() domain.DmThread {
	return domain.DmThread{
		ID:            r.ID,
		Participants:  r.Participants,
		CreatedAt:     fromNanos(r.CreatedAt),
		LastMessageAt: fromNanos(r.LastMessageAt),
	}
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func userKey(id string) string    { return userPrefix + id }
func serverKey(id string) string  { return serverPrefix + id }
func channelKey(id string) string { return channelPrefix + id }
func threadKey(id string) string  { return threadPrefix + id }

func memberKey(serverID, userID string) string {
	return fmt.Sprintf("%s%s:%s", memberPrefix, serverID, userID)
}

func threadPairKey(pair [2]string) string {
	return fmt.Sprintf("%s%s:%s", threadPairPrefix, pair[0], pair[1])
}

func userThreadKey(userID, threadID string) string {
	return fmt.Sprintf("%s%s:%s", userThreadPrefix, userID, threadID)
}

func (s *Store) CreateUser(_ context.Context, displayName string) (domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, fmt.Errorf("%w: empty display name", errors.ErrInvalidInput)
	}
	record := userRecord{ID: uuid.NewString(), DisplayName: displayName, CreatedAt: s.now().UnixNano()}
	err := s.update(func(txn *badger.Txn) error {
		return setRecord(txn, userKey(record.ID), record)
	})
	if err != nil {
		return domain.User{}, err
	}
	return record.toDomain(), nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	var record userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, userKey(userID), &record)
	})
	if err != nil {
		return domain.User{}, err
	}
	return record.toDomain(), nil
}

// CreateServer creates a server and makes its owner the first member.
func (s *Store) CreateServer(_ context.Context, name, ownerID string) (domain.Server, error) {
	now := s.now()
	record := serverRecord{ID: uuid.NewString(), Name: strings.TrimSpace(name), OwnerID: ownerID, CreatedAt: now.UnixNano()}
	if record.Name == "" {
		return domain.Server{}, fmt.Errorf("%w: empty server name", errors.ErrInvalidInput)
	}
	err := s.update(func(txn *badger.Txn) error {
		if err := mustExist(txn, userKey(ownerID)); err != nil {
			return err
		}
		if err := setRecord(txn, serverKey(record.ID), record); err != nil {
			return err
		}
		return setRecord(txn, memberKey(record.ID, ownerID), membershipRecord{JoinedAt: now.UnixNano()})
	})
	if err != nil {
		return domain.Server{}, err
	}
	return domain.Server{ID: record.ID, Name: record.Name, OwnerID: ownerID, CreatedAt: now}, nil
}

func (s *Store) CreateChannel(_ context.Context, serverID, name string) (domain.Channel, error) {
	now := s.now()
	record := channelRecord{ID: uuid.NewString(), ServerID: serverID, Name: strings.TrimSpace(name), CreatedAt: now.UnixNano()}
	if record.Name == "" {
		return domain.Channel{}, fmt.Errorf("%w: empty channel name", errors.ErrInvalidInput)
	}
	err := s.update(func(txn *badger.Txn) error {
		if err := mustExist(txn, serverKey(serverID)); err != nil {
			return err
		}
		return setRecord(txn, channelKey(record.ID), record)
	})
	if err != nil {
		return domain.Channel{}, err
	}
	return domain.Channel{ID: record.ID, ServerID: serverID, Name: record.Name, CreatedAt: now}, nil
}

// AddMember is idempotent: the original join time is kept.
func (s *Store) AddMember(_ context.Context, serverID, userID string) error {
	return s.update(func(txn *badger.Txn) error {
		if err := mustExist(txn, serverKey(serverID), userKey(userID)); err != nil {
			return err
		}
		ok, err := exists(txn, memberKey(serverID, userID))
		if err != nil || ok {
			return err
		}
		return setRecord(txn, memberKey(serverID, userID), membershipRecord{JoinedAt: s.now().UnixNano()})
	})
}

// OpenThread returns the thread of the unordered pair, creating it on first use.
func (s *Store) OpenThread(_ context.Context, userA, userB string) (domain.DmThread, error) {
	if userA == userB {
		return domain.DmThread{}, errors.ErrSameUser
	}
	pair := domain.Pair(userA, userB)
	var record threadRecord
	err := s.update(func(txn *badger.Txn) error {
		var threadID string
		err := getRecord(txn, threadPairKey(pair), &threadID)
		if err == nil {
			return getRecord(txn, threadKey(threadID), &record)
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		if err := mustExist(txn, userKey(pair[0]), userKey(pair[1])); err != nil {
			return err
		}
		record = threadRecord{ID: uuid.NewString(), Participants: pair, CreatedAt: s.now().UnixNano()}
		if err := setRecord(txn, threadKey(record.ID), record); err != nil {
			return err
		}
		if err := setRecord(txn, threadPairKey(pair), record.ID); err != nil {
			return err
		}
		for _, userID := range pair {
			if err := txn.Set([]byte(userThreadKey(userID, record.ID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.DmThread{}, err
	}
	return record.toDomain(), nil
}

// ListThreads returns the user's threads, most recently active first.
func (s *Store) ListThreads(_ context.Context, userID string) ([]domain.DmThread, error) {
	var threads []domain.DmThread
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := userThreadPrefix + userID + ":"
		return scanPrefix(txn, prefix, false, func(key, _ []byte) error {
			var record threadRecord
			if err := getRecord(txn, threadKey(string(key[len(prefix):])), &record); err != nil {
				return err
			}
			threads = append(threads, record.toDomain())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(threads, func(a, b domain.DmThread) int {
		return lastActivity(b).Compare(lastActivity(a))
	})
	return threads, nil
}

func lastActivity(t domain.DmThread) time.Time {
	if t.LastMessageAt.IsZero() {
		return t.CreatedAt
	}
	return t.LastMessageAt
}

func (s *Store) IsChannelMember(_ context.Context, userID, channelID string) (bool, error) {
	var member bool
	err := s.db.View(func(txn *badger.Txn) error {
		var channel channelRecord
		if err := getRecord(txn, channelKey(channelID), &channel); err != nil {
			return err
		}
		var err error
		member, err = exists(txn, memberKey(channel.ServerID, userID))
		return err
	})
	return member, err
}

func (s *Store) IsThreadParticipant(_ context.Context, userID, threadID string) (bool, error) {
	var record threadRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, threadKey(threadID), &record)
	})
	if err != nil {
		return false, err
	}
	return record.toDomain().HasParticipant(userID), nil
}
