package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/a-essam23/go-relay/internal/models"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// Open connects, pings and creates the schema.
func Open(ctx context.Context, logger *slog.Logger, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Store ready", slog.String("driver", driver))
	return &SQLStore{
		db:     db,
		driver: driver,
		logger: logger.With(slog.String("component", "store")),
	}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mustAffect maps a zero-row update or delete to ErrNotFound.
func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Users ---

func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.exec(ctx, `
		INSERT INTO users (id, username, email, avatar, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.Avatar, u.PasswordHash, toNanos(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, avatar, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// --- Groups ---

func (s *SQLStore) CreateGroup(ctx context.Context, g *models.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO chat_groups (id, name, created_by, avatar, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), g.ID, g.Name, g.CreatedBy, g.Avatar, toNanos(g.CreatedAt), toNanos(g.UpdatedAt)); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	if err := s.insertMembers(ctx, tx, g.ID, g.Members); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) insertMembers(ctx context.Context, tx *sql.Tx, groupID string, members []string) error {
	stmt := s.rebind(`INSERT INTO group_members (group_id, user_id, position) VALUES (?, ?, ?)`)
	for i, m := range members {
		if _, err := tx.ExecContext(ctx, stmt, groupID, m, i); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("member %s: %w", m, ErrDuplicate)
			}
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g := models.Group{IsGroup: true}
	var created, updated int64
	err := s.queryRow(ctx, `
		SELECT id, name, created_by, avatar, created_at, updated_at FROM chat_groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.CreatedBy, &g.Avatar, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	g.Username = g.Name
	g.CreatedAt = fromNanos(created)
	g.UpdatedAt = fromNanos(updated)

	rows, err := s.query(ctx, `SELECT user_id FROM group_members WHERE group_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	g.Members = []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		g.Members = append(g.Members, m)
	}
	return &g, rows.Err()
}

func (s *SQLStore) ListGroupsByMember(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.query(ctx, `
		SELECT g.id FROM chat_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows are closed before the per-group reads; sqlite runs on one connection.
	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

func (s *SQLStore) SetGroupMembers(ctx context.Context, id string, members []string, updatedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE chat_groups SET updated_at = ? WHERE id = ?`), toNanos(updatedAt), id)
	if err := mustAffect(res, err); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM group_members WHERE group_id = ?`), id); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	if err := s.insertMembers(ctx, tx, id, members); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM group_members WHERE group_id = ?`), id); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM chat_groups WHERE id = ?`), id)
	if err := mustAffect(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Messages ---

func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.Type == "" {
		m.Type = models.MessageText
	}
	_, err := s.exec(ctx, `
		INSERT INTO messages (id, sender, receiver, body, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.From, m.To, m.Text, m.Type, toNanos(m.CreatedAt), toNanos(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, a, b, kind string) ([]models.Message, error) {
	q := `
		SELECT id, sender, receiver, body, kind, created_at, updated_at FROM messages
		WHERE ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))`
	args := []any{a, b, b, a}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var m models.Message
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromNanos(created)
		m.UpdatedAt = fromNanos(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMessageText(ctx context.Context, id, text string, updatedAt time.Time) error {
	return mustAffect(s.exec(ctx, `UPDATE messages SET body = ?, updated_at = ? WHERE id = ?`, text, toNanos(updatedAt), id))
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	return mustAffect(s.exec(ctx, `DELETE FROM messages WHERE id = ?`, id))
}

func (s *SQLStore) CreateVoiceMessage(ctx context.Context, v *models.VoiceMessage) error {
	_, err := s.exec(ctx, `
		INSERT INTO voice_messages (id, sender, receiver, audio_url, created_at) VALUES (?, ?, ?, ?, ?)
	`, v.ID, v.From, v.To, v.AudioURL, toNanos(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert voice message: %w", err)
	}
	return nil
}

func scanVoice(row interface{ Scan(...any) error }) (*models.VoiceMessage, error) {
	var v models.VoiceMessage
	var created int64
	if err := row.Scan(&v.ID, &v.From, &v.To, &v.AudioURL, &created); err != nil {
		return nil, err
	}
	v.CreatedAt = fromNanos(created)
	return &v, nil
}

func (s *SQLStore) ListVoiceMessages(ctx context.Context, a, b string) ([]models.VoiceMessage, error) {
	rows, err := s.query(ctx, `
		SELECT id, sender, receiver, audio_url, created_at FROM voice_messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY created_at, id
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("list voice messages: %w", err)
	}
	defer rows.Close()

	out := []models.VoiceMessage{}
	for rows.Next() {
		v, err := scanVoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice message: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetVoiceMessage(ctx context.Context, id string) (*models.VoiceMessage, error) {
	v, err := scanVoice(s.queryRow(ctx, `
		SELECT id, sender, receiver, audio_url, created_at FROM voice_messages WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voice message: %w", err)
	}
	return v, nil
}

func (s *SQLStore) DeleteVoiceMessage(ctx context.Context, id string) error {
	return mustAffect(s.exec(ctx, `DELETE FROM voice_messages WHERE id = ?`, id))
}

// --- Polls ---

func (s *SQLStore) CreatePoll(ctx context.Context, p *models.Poll) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode poll: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO polls (id, created_by, created_at, doc) VALUES (?, ?, ?, ?)`,
		p.ID, p.CreatedBy, toNanos(p.CreatedAt), string(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("poll %s: %w", p.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

func decodePoll(doc string) (*models.Poll, error) {
	var p models.Poll
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	for i := range p.Options {
		if p.Options[i].Voters == nil {
			p.Options[i].Voters = []string{}
		}
	}
	return &p, nil
}

func (s *SQLStore) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	var doc string
	err := s.queryRow(ctx, `SELECT doc FROM polls WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll: %w", err)
	}
	return decodePoll(doc)
}

func (s *SQLStore) ListPolls(ctx context.Context) ([]models.Poll, error) {
	rows, err := s.query(ctx, `SELECT doc FROM polls ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	out := []models.Poll{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		p, err := decodePoll(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLStore) SavePoll(ctx context.Context, p *models.Poll) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode poll: %w", err)
	}
	return mustAffect(s.exec(ctx, `UPDATE polls SET doc = ? WHERE id = ?`, string(doc), p.ID))
}

func (s *SQLStore) DeletePoll(ctx context.Context, id string) error {
	return mustAffect(s.exec(ctx, `DELETE FROM polls WHERE id = ?`, id))
}

// --- Notifications ---

func (s *SQLStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.exec(ctx, `
		INSERT INTO notifications (id, email, message, is_read, created_at) VALUES (?, ?, ?, ?, ?)
	`, n.ID, n.Email, n.Message, boolToInt(n.Read), toNanos(n.Timestamp))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, email string) ([]models.Notification, error) {
	rows, err := s.query(ctx, `
		SELECT id, email, message, is_read, created_at FROM notifications
		WHERE email = ? ORDER BY created_at DESC, id DESC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var read int
		var created int64
		if err := rows.Scan(&n.ID, &n.Email, &n.Message, &read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.Timestamp = fromNanos(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountUnread(ctx context.Context, email string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE email = ? AND is_read = 0`, email).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *SQLStore) MarkAllRead(ctx context.Context, email string) (int64, error) {
	res, err := s.exec(ctx, `UPDATE notifications SET is_read = 1 WHERE email = ? AND is_read = 0`, email)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}
