// Package store persists messages, user profiles, and location reports to
// SQLite. It consumes the records produced by the message and wechat
// packages without shaping them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lspvic/yawxt/internal/message"
	"github.com/lspvic/yawxt/internal/wechat"
)

// Store wraps the SQLite database holding the webhook history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wechat_message (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		to_id       TEXT,
		from_id     TEXT,
		msg_id      INTEGER,
		msg_type    TEXT,
		create_time INTEGER,
		content     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_message_from ON wechat_message(from_id, create_time);

	CREATE TABLE IF NOT EXISTS wechat_user (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		subscribe      INTEGER,
		openid         TEXT UNIQUE,
		nickname       TEXT,
		sex            INTEGER,
		city           TEXT,
		country        TEXT,
		province       TEXT,
		language       TEXT,
		headimgurl     TEXT,
		subscribe_time INTEGER,
		unionid        TEXT,
		remark         TEXT,
		groupid        INTEGER,
		tagid_list     TEXT,
		update_time    INTEGER
	);

	CREATE TABLE IF NOT EXISTS wechat_location (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude    REAL,
		longitude   REAL,
		precision   REAL,
		create_time INTEGER,
		openid      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_location_openid ON wechat_location(openid, create_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// SaveMessage appends one message (inbound or reply) to the history.
func (s *Store) SaveMessage(ctx context.Context, m *message.Message) error {
	var msgID any
	if m.MsgID != 0 {
		msgID = m.MsgID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wechat_message (to_id, from_id, msg_id, msg_type, create_time, content)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ToID, m.FromID, msgID, m.MsgType, m.CreateTime, m.Content,
	)
	return err
}

// SaveLocation appends one location report.
func (s *Store) SaveLocation(ctx context.Context, loc message.Location) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wechat_location (latitude, longitude, precision, create_time, openid)
		 VALUES (?, ?, ?, ?, ?)`,
		loc.Latitude, loc.Longitude, loc.Precision, loc.CreateTime, loc.OpenID,
	)
	return err
}

// LastLocation returns the most recent location reported by openid, or nil
// when none was ever reported.
func (s *Store) LastLocation(ctx context.Context, openid string) (*message.Location, error) {
	var loc message.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, precision, create_time, openid
		 FROM wechat_location WHERE openid = ? ORDER BY create_time DESC LIMIT 1`,
		openid,
	).Scan(&loc.Latitude, &loc.Longitude, &loc.Precision, &loc.CreateTime, &loc.OpenID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// GetUser loads a stored user profile and the time it was last refreshed
// from the API; nil when the user was never stored.
func (s *Store) GetUser(ctx context.Context, openid string) (*wechat.User, time.Time, error) {
	var (
		u          wechat.User
		updateTime int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subscribe, openid, nickname, sex, city, country, province, language,
		        headimgurl, subscribe_time, unionid, remark, groupid, tagid_list, update_time
		 FROM wechat_user WHERE openid = ?`,
		openid,
	).Scan(&u.Subscribe, &u.OpenID, &u.Nickname, &u.Sex, &u.City, &u.Country,
		&u.Province, &u.Language, &u.HeadImgURL, &u.SubscribeTime, &u.UnionID,
		&u.Remark, &u.GroupID, &u.TagIDList, &updateTime)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return &u, time.Unix(updateTime, 0), nil
}

// SaveUser inserts or replaces a user profile, stamping the refresh time.
func (s *Store) SaveUser(ctx context.Context, u *wechat.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wechat_user (subscribe, openid, nickname, sex, city, country, province,
		                          language, headimgurl, subscribe_time, unionid, remark,
		                          groupid, tagid_list, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(openid) DO UPDATE SET
		   subscribe = excluded.subscribe,
		   nickname = excluded.nickname,
		   sex = excluded.sex,
		   city = excluded.city,
		   country = excluded.country,
		   province = excluded.province,
		   language = excluded.language,
		   headimgurl = excluded.headimgurl,
		   subscribe_time = excluded.subscribe_time,
		   unionid = excluded.unionid,
		   remark = excluded.remark,
		   groupid = excluded.groupid,
		   tagid_list = excluded.tagid_list,
		   update_time = excluded.update_time`,
		u.Subscribe, u.OpenID, u.Nickname, u.Sex, u.City, u.Country, u.Province,
		u.Language, u.HeadImgURL, u.SubscribeTime, u.UnionID, u.Remark,
		u.GroupID, u.TagIDList, time.Now().Unix(),
	)
	return err
}
