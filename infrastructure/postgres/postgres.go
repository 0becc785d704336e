package postgres

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
	log *slog.Logger
	now func() time.Time
}

// Connect connects to the database, pings it and makes sure the schema exists.
func Connect(ctx context.Context, connStr string, log *slog.Logger) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	pg := &Postgres{
		bun: bun.NewDB(sqlDB, pgdialect.New()),
		log: log,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if err := pg.migrate(ctx); err != nil {
		_ = pg.bun.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

func (pg *Postgres) Close() error { return pg.bun.Close() }

func (pg *Postgres) migrate(ctx context.Context) error {
	models := []any{
		(*user)(nil), (*server)(nil), (*channel)(nil), (*membership)(nil),
		(*dmThread)(nil), (*message)(nil), (*reaction)(nil),
	}
	for _, model := range models {
		if _, err := pg.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	_, err := pg.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_room_created_idx").
		Column("room_kind", "room_id", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, errors.ErrNotFound)
	}
	return err
}

func (pg *Postgres) CreateUser(ctx context.Context, displayName string) (domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, fmt.Errorf("%w: empty display name", errors.ErrInvalidInput)
	}
	u := &user{ID: uuid.NewString(), DisplayName: displayName, CreatedAt: pg.now()}
	if _, err := pg.bun.NewInsert().Model(u).Exec(ctx); err != nil {
		return domain.User{}, fmt.Errorf("insert: %w", err)
	}
	return u.Domain(), nil
}

func (pg *Postgres) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u user
	if err := pg.bun.NewSelect().Model(&u).Where("id = ?", userID).Scan(ctx); err != nil {
		return domain.User{}, notFound(err, "user "+userID)
	}
	return u.Domain(), nil
}

// CreateServer creates a server and makes its owner the first member.
func (pg *Postgres) CreateServer(ctx context.Context, name, ownerID string) (domain.Server, error) {
	s := &server{ID: uuid.NewString(), Name: strings.TrimSpace(name), OwnerID: ownerID, CreatedAt: pg.now()}
	if s.Name == "" {
		return domain.Server{}, fmt.Errorf("%w: empty server name", errors.ErrInvalidInput)
	}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := mustExist(ctx, tx, (*user)(nil), ownerID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(s).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&membership{ServerID: s.ID, UserID: ownerID, JoinedAt: s.CreatedAt}).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.Server{}, err
	}
	return domain.Server{ID: s.ID, Name: s.Name, OwnerID: ownerID, CreatedAt: s.CreatedAt}, nil
}

func (pg *Postgres) CreateChannel(ctx context.Context, serverID, name string) (domain.Channel, error) {
	c := &channel{ID: uuid.NewString(), ServerID: serverID, Name: strings.TrimSpace(name), CreatedAt: pg.now()}
	if c.Name == "" {
		return domain.Channel{}, fmt.Errorf("%w: empty channel name", errors.ErrInvalidInput)
	}
	if err := mustExist(ctx, pg.bun, (*server)(nil), serverID); err != nil {
		return domain.Channel{}, err
	}
	if _, err := pg.bun.NewInsert().Model(c).Exec(ctx); err != nil {
		return domain.Channel{}, fmt.Errorf("insert: %w", err)
	}
	return domain.Channel{ID: c.ID, ServerID: serverID, Name: c.Name, CreatedAt: c.CreatedAt}, nil
}

// AddMember is idempotent: the original join time is kept.
func (pg *Postgres) AddMember(ctx context.Context, serverID, userID string) error {
	if err := mustExist(ctx, pg.bun, (*server)(nil), serverID); err != nil {
		return err
	}
	if err := mustExist(ctx, pg.bun, (*user)(nil), userID); err != nil {
		return err
	}
	_, err := pg.bun.NewInsert().
		Model(&membership{ServerID: serverID, UserID: userID, JoinedAt: pg.now()}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

// OpenThread returns the thread of the unordered pair, creating it on first use.
func (pg *Postgres) OpenThread(ctx context.Context, userA, userB string) (domain.DmThread, error) {
	if userA == userB {
		return domain.DmThread{}, errors.ErrSameUser
	}
	pair := domain.Pair(userA, userB)
	for _, userID := range pair {
		if err := mustExist(ctx, pg.bun, (*user)(nil), userID); err != nil {
			return domain.DmThread{}, err
		}
	}
	// A concurrent open of the same pair loses on the unique constraint and
	// reads the winner's row below.
	_, err := pg.bun.NewInsert().
		Model(&dmThread{ID: uuid.NewString(), UserA: pair[0], UserB: pair[1], CreatedAt: pg.now()}).
		On("CONFLICT (user_a, user_b) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.DmThread{}, fmt.Errorf("insert: %w", err)
	}
	var t dmThread
	err = pg.bun.NewSelect().Model(&t).Where("user_a = ? AND user_b = ?", pair[0], pair[1]).Scan(ctx)
	if err != nil {
		return domain.DmThread{}, err
	}
	return t.Domain(), nil
}

// ListThreads returns the user's threads, most recently active first.
func (pg *Postgres) ListThreads(ctx context.Context, userID string) ([]domain.DmThread, error) {
	var threads []dmThread
	err := pg.bun.NewSelect().
		Model(&threads).
		Where("user_a = ? OR user_b = ?", userID, userID).
		OrderExpr("COALESCE(last_message_at, created_at) DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return lo.Map(threads, func(t dmThread, _ int) domain.DmThread { return t.Domain() }), nil
}

func (pg *Postgres) IsChannelMember(ctx context.Context, userID, channelID string) (bool, error) {
	var c channel
	if err := pg.bun.NewSelect().Model(&c).Where("id = ?", channelID).Scan(ctx); err != nil {
		return false, notFound(err, "channel "+channelID)
	}
	return pg.bun.NewSelect().
		Model((*membership)(nil)).
		Where("server_id = ? AND user_id = ?", c.ServerID, userID).
		Exists(ctx)
}

func (pg *Postgres) IsThreadParticipant(ctx context.Context, userID, threadID string) (bool, error) {
	var t dmThread
	if err := pg.bun.NewSelect().Model(&t).Where("id = ?", threadID).Scan(ctx); err != nil {
		return false, notFound(err, "thread "+threadID)
	}
	return t.Domain().HasParticipant(userID), nil
}

// CreateMessage stores the message and returns its canonical form. For a
// thread, its last activity time moves forward in the same transaction.
func (pg *Postgres) CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, err
	}
	m := &message{
		ID:        id.String(),
		RoomKind:  string(msg.Room.Kind),
		RoomID:    msg.Room.ID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: pg.now(),
		ReplyToID: msg.ReplyToID,
	}
	err = pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		switch msg.Room.Kind {
		case domain.ChannelRoom:
			if err := mustExist(ctx, tx, (*channel)(nil), msg.Room.ID); err != nil {
				return err
			}
		case domain.ThreadRoom:
			res, err := tx.NewUpdate().
				Model((*dmThread)(nil)).
				Set("last_message_at = ?", m.CreatedAt).
				Where("id = ?", msg.Room.ID).
				Exec(ctx)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("thread %s: %w", msg.Room.ID, errors.ErrNotFound)
			}
		default:
			return fmt.Errorf("%w: room kind %q", errors.ErrInvalidInput, msg.Room.Kind)
		}
		_, err := tx.NewInsert().Model(m).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	out, err := pg.hydrate(ctx, []message{*m}, "")
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

func (pg *Postgres) MessageRoom(ctx context.Context, messageID string) (domain.RoomKey, error) {
	var m message
	err := pg.bun.NewSelect().Model(&m).Column("room_kind", "room_id").Where("id = ?", messageID).Scan(ctx)
	if err != nil {
		return domain.RoomKey{}, notFound(err, "message "+messageID)
	}
	return m.Room(), nil
}

// ToggleReaction locks the message row so that toggles on one message are
// serialized, then flips the edge.
func (pg *Postgres) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m message
		err := tx.NewSelect().Model(&m).Column("id").Where("id = ?", messageID).For("UPDATE").Scan(ctx)
		if err != nil {
			return notFound(err, "message "+messageID)
		}
		res, err := tx.NewDelete().
			Model((*reaction)(nil)).
			Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = false
			return nil
		}
		added = true
		_, err = tx.NewInsert().
			Model(&reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: pg.now()}).
			Exec(ctx)
		return err
	})
	return added, err
}

// ListRecentMessages returns the latest limit messages of room, oldest first.
func (pg *Postgres) ListRecentMessages(ctx context.Context, room domain.RoomKey, limit int, viewerID string) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Reactions").
		Where("room_kind = ? AND room_id = ?", room.Kind, room.ID).
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	slices.Reverse(msgs)
	return pg.hydrate(ctx, msgs, viewerID)
}

// hydrate resolves authors, reply previews and reaction summaries.
func (pg *Postgres) hydrate(ctx context.Context, msgs []message, viewerID string) ([]domain.Message, error) {
	replyIDs := lo.Uniq(lo.FilterMap(msgs, func(m message, _ int) (string, bool) {
		return m.ReplyToID, m.ReplyToID != ""
	}))
	var targets []message
	if len(replyIDs) > 0 {
		if err := pg.bun.NewSelect().Model(&targets).Where("id IN (?)", bun.In(replyIDs)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("scan replies: %w", err)
		}
	}
	targetByID := lo.KeyBy(targets, func(m message) string { return m.ID })

	authorIDs := lo.Uniq(append(
		lo.Map(msgs, func(m message, _ int) string { return m.AuthorID }),
		lo.Map(targets, func(m message, _ int) string { return m.AuthorID })...,
	))
	var users []user
	if err := pg.bun.NewSelect().Model(&users).Where("id IN (?)", bun.In(authorIDs)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan authors: %w", err)
	}
	userByID := lo.KeyBy(users, func(u user) string { return u.ID })
	author := func(id string) domain.Author {
		u, ok := userByID[id]
		if !ok {
			u = user{ID: id}
		}
		return u.Domain().Author()
	}

	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		msg := domain.Message{
			ID:        m.ID,
			Room:      m.Room(),
			Author:    author(m.AuthorID),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
			ReplyToID: m.ReplyToID,
			Reactions: domain.Summarize(m.Edges(), viewerID),
		}
		if target, ok := targetByID[m.ReplyToID]; ok && target.Room() == m.Room() {
			msg.ReplyTo = domain.Message{ID: target.ID, Author: author(target.AuthorID), Content: target.Content}.Preview()
		}
		out[i] = msg
	}
	return out, nil
}

func mustExist(ctx context.Context, db bun.IDB, model any, id string) error {
	ok, err := db.NewSelect().Model(model).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%T %s: %w", model, id, errors.ErrNotFound)
	}
	return nil
}
