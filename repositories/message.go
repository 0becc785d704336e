package repositories

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type messageRecord struct {
	ID        string `cbor:"1,keyasint"`
	Kind      string `cbor:"2,keyasint"`
	RoomID    string `cbor:"3,keyasint"`
	AuthorID  string `cbor:"4,keyasint"`
	Content   string `cbor:"5,keyasint"`
	CreatedAt int64  `cbor:"6,keyasint"`
	ReplyToID string `cbor:"7,keyasint,omitempty"`
}

type reactionRecord struct {
	MessageID string `cbor:"1,keyasint"`
	UserID    string `cbor:"2,keyasint"`
	Emoji     string `cbor:"3,keyasint"`
	At        int64  `cbor:"4,keyasint"`
}

func (r messageRecord) room() domain.RoomKey {
	return domain.RoomKey{Kind: domain.RoomKind(r.Kind), ID: r.RoomID}
}

func roomPrefix(room domain.RoomKey) string {
	return fmt.Sprintf("%s%s:%s:", messagePrefix, room.Kind, room.ID)
}

// messageKey is formatted as "msg:{kind}:{room}:{timestamp_padded}:{uuid}" so that
// a prefix scan returns a room's messages in chronological order; the uuid
// disambiguates messages created in the same nanosecond.
func messageKey(r messageRecord) string {
	return fmt.Sprintf("%s%019d:%s", roomPrefix(r.room()), r.CreatedAt, r.ID)
}

func messageIdxKey(id string) string { return messageIdxPrefix + id }

func reactionKey(messageID, userID, emoji string) string {
	return fmt.Sprintf("%s%s:%s:%s", reactionPrefix, messageID, userID, emoji)
}

// CreateMessage stores the message and returns its canonical form. The room
// must exist; for a thread, its last activity time moves forward.
func (s *Store) CreateMessage(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, err
	}
	record := messageRecord{
		ID:        id.String(),
		Kind:      string(msg.Room.Kind),
		RoomID:    msg.Room.ID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: s.now().UnixNano(),
		ReplyToID: msg.ReplyToID,
	}

	var out domain.Message
	err = s.update(func(txn *badger.Txn) error {
		switch msg.Room.Kind {
		case domain.ChannelRoom:
			if err := mustExist(txn, channelKey(msg.Room.ID)); err != nil {
				return err
			}
		case domain.ThreadRoom:
			var thread threadRecord
			if err := getRecord(txn, threadKey(msg.Room.ID), &thread); err != nil {
				return err
			}
			thread.LastMessageAt = record.CreatedAt
			if err := setRecord(txn, threadKey(thread.ID), thread); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: room kind %q", errors.ErrInvalidInput, msg.Room.Kind)
		}

		key := messageKey(record)
		if err := setRecord(txn, key, record); err != nil {
			return err
		}
		if err := txn.Set([]byte(messageIdxKey(record.ID)), []byte(key)); err != nil {
			return err
		}
		var err error
		out, err = newResolver(txn, "").message(record)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

// MessageRoom returns the room a message was posted in.
func (s *Store) MessageRoom(_ context.Context, messageID string) (domain.RoomKey, error) {
	var record messageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getMessage(txn, messageID, &record)
	})
	if err != nil {
		return domain.RoomKey{}, err
	}
	return record.room(), nil
}

func getMessage(txn *badger.Txn, messageID string, record *messageRecord) error {
	item, err := txn.Get([]byte(messageIdxKey(messageID)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("message %s: %w", messageID, errors.ErrNotFound)
	}
	if err != nil {
		return err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return getRecord(txn, string(key), record)
}

// ToggleReaction flips the (message, user, emoji) edge and reports whether it
// now exists. Concurrent toggles on the same edge are serialized by badger's
// conflict detection; the last committed one wins.
func (s *Store) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := s.update(func(txn *badger.Txn) error {
		if err := mustExist(txn, messageIdxKey(messageID)); err != nil {
			return err
		}
		key := reactionKey(messageID, userID, emoji)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			added = false
			return txn.Delete([]byte(key))
		}
		added = true
		return setRecord(txn, key, reactionRecord{MessageID: messageID, UserID: userID, Emoji: emoji, At: s.now().UnixNano()})
	})
	return added, err
}

// ListRecentMessages returns the latest limit messages of room, oldest first.
func (s *Store) ListRecentMessages(_ context.Context, room domain.RoomKey, limit int, viewerID string) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var messages []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		records, err := latestRecords(txn, roomPrefix(room), limit)
		if err != nil {
			return err
		}
		slices.Reverse(records)
		resolver := newResolver(txn, viewerID)
		messages = make([]domain.Message, 0, len(records))
		for _, record := range records {
			msg, err := resolver.message(record)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	return messages, err
}

// latestRecords walks the room prefix backwards from the newest key.
func latestRecords(txn *badger.Txn, prefix string, limit int) ([]messageRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the highest possible timestamp of the room
	seekKey := append([]byte(prefix), 0xFF)
	var records []messageRecord
	for it.Seek(seekKey); it.ValidForPrefix(opts.Prefix) && len(records) < limit; it.Next() {
		var record messageRecord
		err := it.Item().Value(func(val []byte) error {
			return decode(val, &record)
		})
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// resolver builds domain messages inside one transaction, caching authors.
type resolver struct {
	txn      *badger.Txn
	viewerID string
	authors  map[string]domain.Author
}

func newResolver(txn *badger.Txn, viewerID string) *resolver {
	return &resolver{txn: txn, viewerID: viewerID, authors: make(map[string]domain.Author)}
}

func (r *resolver) author(userID string) (domain.Author, error) {
	if author, ok := r.authors[userID]; ok {
		return author, nil
	}
	var record userRecord
	err := getRecord(r.txn, userKey(userID), &record)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		// Deleted or never registered: fall back to the raw id
		record = userRecord{ID: userID}
	case err != nil:
		return domain.Author{}, err
	}
	author := record.toDomain().Author()
	r.authors[userID] = author
	return author, nil
}

func (r *resolver) message(record messageRecord) (domain.Message, error) {
	author, err := r.author(record.AuthorID)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:        record.ID,
		Room:      record.room(),
		Author:    author,
		Content:   record.Content,
		CreatedAt: fromNanos(record.CreatedAt),
		ReplyToID: record.ReplyToID,
		Reactions: domain.ReactionSummary{},
	}
	if record.ReplyToID != "" {
		if msg.ReplyTo, err = r.preview(record); err != nil {
			return domain.Message{}, err
		}
	}
	edges, err := r.reactions(record.ID)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Reactions = domain.Summarize(edges, r.viewerID)
	return msg, nil
}

// preview is nil when the target is missing or lives in another room.
func (r *resolver) preview(record messageRecord) (*domain.ReplyPreview, error) {
	var target messageRecord
	err := getMessage(r.txn, record.ReplyToID, &target)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if target.room() != record.room() {
		return nil, nil
	}
	author, err := r.author(target.AuthorID)
	if err != nil {
		return nil, err
	}
	return domain.Message{ID: target.ID, Author: author, Content: target.Content}.Preview(), nil
}

func (r *resolver) reactions(messageID string) ([]domain.ReactionEdge, error) {
	var records []reactionRecord
	err := scanPrefix(r.txn, reactionPrefix+messageID+":", true, func(_, val []byte) error {
		var record reactionRecord
		if err := decode(val, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(record reactionRecord, _ int) domain.ReactionEdge {
		return domain.ReactionEdge{MessageID: record.MessageID, UserID: record.UserID, Emoji: record.Emoji}
	}), nil
}
