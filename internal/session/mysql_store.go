package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "OllamaBot/internal/errors"
)

const (
	selectSessionSQL = `SELECT id, system_prompt, messages, total_tokens, created_at, updated_at
        FROM chat_sessions WHERE id = ?`
	upsertSessionSQL = `INSERT INTO chat_sessions
        (id, system_prompt, messages, total_tokens, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        system_prompt = VALUES(system_prompt),
        messages = VALUES(messages),
        total_tokens = VALUES(total_tokens),
        updated_at = VALUES(updated_at)`
	deleteSessionSQL     = `DELETE FROM chat_sessions WHERE id = ?`
	deleteAllSessionsSQL = `DELETE FROM chat_sessions`
)

// MySQLStoreConfig 描述 MySQL 会话存储的连接参数。
type MySQLStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TTL             time.Duration
}

// MySQLStore 使用 chat_sessions 表保存会话。
type MySQLStore struct {
	db  *sql.DB
	ttl expiry
	now func() time.Time
}

// NewMySQLStore 连接 MySQL 并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLStoreConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store, err := NewMySQLStoreWithDB(ctx, db, cfg.TTL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB 复用已有的数据库连接，并执行内置迁移。
func NewMySQLStoreWithDB(ctx context.Context, db *sql.DB, ttl time.Duration) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化会话表失败")
	}
	store := &MySQLStore{db: db, now: time.Now}
	store.ttl.set(ttl)
	return store, nil
}

// SetTTL 调整空闲过期时间，在读取时生效。
func (s *MySQLStore) SetTTL(ttl time.Duration) {
	s.ttl.set(ttl)
}

// Get 查询会话，超过空闲时间的会话视为不存在。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess     Session
		messages string
	)
	err := s.db.QueryRowContext(ctx, selectSessionSQL, id).Scan(
		&sess.ID,
		&sess.SystemPrompt,
		&messages,
		&sess.TotalTokens,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	if s.ttl.expired(s.now(), sess.UpdatedAt) {
		_ = s.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}
	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话消息失败")
	}
	return &sess, nil
}

// Put 插入或更新会话。
func (s *MySQLStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话消息失败")
	}

	_, err = s.db.ExecContext(ctx, upsertSessionSQL,
		sess.ID,
		sess.SystemPrompt,
		string(messages),
		sess.TotalTokens,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存会话失败")
	}
	return nil
}

// Delete 删除会话。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteSessionSQL, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// DeleteAll 清空会话表。
func (s *MySQLStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deleteAllSessionsSQL); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空会话失败")
	}
	return nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
