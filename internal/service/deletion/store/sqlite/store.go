// Package sqlite SQLite(modernc.org/sqlite)에 데이터를 보관하는 deletion.Store 구현체를 제공합니다.
//
// 예약 선점은 "UPDATE ... WHERE in_progress = 0"의 영향 행 수로 판정하므로,
// 같은 데이터베이스 파일을 공유하는 여러 워커 프로세스에서도 하나의 예약은 한 번만 실행됩니다.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
	_ "modernc.org/sqlite"
)

var _ deletion.Store = (*Store)(nil)

const defaultBusyTimeout = 5 * time.Second

// Config SQLite 저장소 설정
type Config struct {
	// Path 데이터베이스 파일 경로. 상위 디렉토리가 없으면 생성합니다.
	Path string

	// BusyTimeout 다른 연결이 잠금을 잡고 있을 때 대기할 최대 시간 (기본: 5초)
	BusyTimeout time.Duration
}

// Store SQLite 기반 저장소입니다.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open 데이터베이스를 열고 스키마를 초기화합니다.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "SQLite 데이터베이스 경로가 비어 있습니다")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.System, "데이터베이스 디렉토리 생성에 실패했습니다: '%s'", dir)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "SQLite 데이터베이스 열기에 실패했습니다")
	}

	// SQLite는 단일 쓰기만 지원합니다.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.System, "SQLite 스키마 초기화에 실패했습니다")
	}

	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		status      TEXT NOT NULL,
		owner_id    TEXT,
		owner_email TEXT,
		attrs       TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (entity_type, entity_id)
	);

	CREATE TABLE IF NOT EXISTS scheduled_deletions (
		id          TEXT PRIMARY KEY,
		target_type TEXT NOT NULL,
		target_id   TEXT NOT NULL,
		actor_id    TEXT,
		actor_email TEXT,
		due_at      INTEGER NOT NULL,
		in_progress INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		UNIQUE (target_type, target_id)
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_deletions_due ON scheduled_deletions (in_progress, due_at);

	CREATE TABLE IF NOT EXISTS pending_deletion_markers (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// attrPath 속성 이름을 JSON 경로로 변환합니다. 점(.)이 포함된 이름도 하나의 키로 취급합니다.
func attrPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func actorFromColumns(id, email sql.NullString) *deletion.ActorRef {
	if !id.Valid && !email.Valid {
		return nil
	}
	return &deletion.ActorRef{ID: id.String, Email: email.String}
}

// =============================================================================
// Entities
// =============================================================================

const entityColumns = `entity_type, entity_id, status, owner_id, owner_email, attrs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*deletion.Entity, error) {
	var (
		typ, id, status     string
		ownerID, ownerEmail sql.NullString
		attrsJSON           string
	)
	if err := row.Scan(&typ, &id, &status, &ownerID, &ownerEmail, &attrsJSON); err != nil {
		return nil, err
	}

	e := &deletion.Entity{
		Ref:    deletion.EntityRef{Type: deletion.EntityType(typ), ID: id},
		Status: deletion.Status(status),
		Owner:  actorFromColumns(ownerID, ownerEmail),
		Attrs:  map[string]string{},
	}
	if err := json.Unmarshal([]byte(attrsJSON), &e.Attrs); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ParsingFailed, "엔티티(%s) 속성 파싱에 실패했습니다", e.Ref)
	}
	return e, nil
}

func (s *Store) PutEntity(ctx context.Context, e *deletion.Entity) error {
	attrs := e.Attrs
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "엔티티 속성 직렬화에 실패했습니다")
	}

	var ownerID, ownerEmail string
	if e.Owner != nil {
		ownerID, ownerEmail = e.Owner.ID, e.Owner.Email
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			status = excluded.status,
			owner_id = excluded.owner_id,
			owner_email = excluded.owner_email,
			attrs = excluded.attrs
	`, string(e.Ref.Type), e.Ref.ID, string(e.Status), nullString(ownerID), nullString(ownerEmail), string(attrsJSON))
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "엔티티(%s) 저장에 실패했습니다", e.Ref)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, ref deletion.EntityRef) (*deletion.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_type = ? AND entity_id = ?`, string(ref.Type), ref.ID)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deletion.ErrEntityNotFound
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.System, "엔티티(%s) 조회에 실패했습니다", ref)
	}
	return e, nil
}

func (s *Store) FindEntities(ctx context.Context, typ deletion.EntityType, key, value string) ([]*deletion.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE entity_type = ? AND json_extract(attrs, ?) = ?
		ORDER BY entity_id
	`, string(typ), attrPath(key), value)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.System, "엔티티 검색에 실패했습니다 (type=%s, %s=%s)", typ, key, value)
	}
	defer rows.Close()

	var found []*deletion.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, e)
	}
	return found, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, ref deletion.EntityRef, status deletion.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entities SET status = ? WHERE entity_type = ? AND entity_id = ?`, string(status), string(ref.Type), ref.ID)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "엔티티(%s) 상태 변경에 실패했습니다", ref)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deletion.ErrEntityNotFound
	}
	return nil
}

// =============================================================================
// Schedules
// =============================================================================

const scheduleColumns = `id, target_type, target_id, actor_id, actor_email, due_at, in_progress, created_at`

func scanSchedule(row rowScanner) (*deletion.ScheduledDeletion, error) {
	var (
		sd                  deletion.ScheduledDeletion
		targetType          string
		actorID, actorEmail sql.NullString
		dueAt, createdAt    int64
		inProgress          int
	)
	if err := row.Scan(&sd.ID, &targetType, &sd.Target.ID, &actorID, &actorEmail, &dueAt, &inProgress, &createdAt); err != nil {
		return nil, err
	}

	sd.Target.Type = deletion.EntityType(targetType)
	sd.Actor = actorFromColumns(actorID, actorEmail)
	sd.DueAt = time.Unix(0, dueAt).UTC()
	sd.CreatedAt = time.Unix(0, createdAt).UTC()
	sd.InProgress = inProgress != 0

	return &sd, nil
}

func (s *Store) CreateSchedule(ctx context.Context, sd *deletion.ScheduledDeletion) error {
	var actorID, actorEmail string
	if sd.Actor != nil {
		actorID, actorEmail = sd.Actor.ID, sd.Actor.Email
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_deletions (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_type, target_id) DO NOTHING
	`, sd.ID, string(sd.Target.Type), sd.Target.ID, nullString(actorID), nullString(actorEmail),
		sd.DueAt.UnixNano(), boolToInt(sd.InProgress), sd.CreatedAt.UnixNano())
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 저장에 실패했습니다", sd.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deletion.ErrScheduleExists
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*deletion.ScheduledDeletion, error) {
	sd, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_deletions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deletion.ErrScheduleNotFound
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 조회에 실패했습니다", id)
	}
	return sd, nil
}

func (s *Store) FindScheduleByTarget(ctx context.Context, ref deletion.EntityRef) (*deletion.ScheduledDeletion, error) {
	sd, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_deletions WHERE target_type = ? AND target_id = ?`, string(ref.Type), ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deletion.ErrScheduleNotFound
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.System, "엔티티(%s)의 삭제 예약 조회에 실패했습니다", ref)
	}
	return sd, nil
}

func (s *Store) RescheduleUnclaimed(ctx context.Context, id string, dueAt time.Time, actor *deletion.ActorRef) error {
	var res sql.Result
	var err error
	if actor != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE scheduled_deletions SET due_at = ?, actor_id = ?, actor_email = ?
			WHERE id = ? AND in_progress = 0
		`, dueAt.UnixNano(), nullString(actor.ID), nullString(actor.Email), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE scheduled_deletions SET due_at = ? WHERE id = ? AND in_progress = 0`, dueAt.UnixNano(), id)
	}
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 변경에 실패했습니다", id)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.claimedOrMissing(ctx, id)
}

// claimedOrMissing 조건부 변경이 적용되지 않은 이유를 판별합니다.
func (s *Store) claimedOrMissing(ctx context.Context, id string) error {
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	return deletion.ErrScheduleClaimed
}

func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*deletion.ScheduledDeletion, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_deletions
		WHERE in_progress = 0 AND due_at <= ?
		ORDER BY due_at, id
		LIMIT ?
	`, now.UnixNano(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.System, "실행 대상 삭제 예약 조회에 실패했습니다")
	}
	defer rows.Close()

	var due []*deletion.ScheduledDeletion
	for rows.Next() {
		sd, err := scanSchedule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.System, "삭제 예약 행 읽기에 실패했습니다")
		}
		due = append(due, sd)
	}
	return due, rows.Err()
}

func (s *Store) ClaimSchedule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_deletions SET in_progress = 1 WHERE id = ? AND in_progress = 0`, id)
	if err != nil {
		return false, apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 선점에 실패했습니다", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.System, "삭제 예약 선점 결과 확인에 실패했습니다")
	}
	return n == 1, nil
}

func (s *Store) RemoveUnclaimedSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_deletions WHERE id = ? AND in_progress = 0`, id)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 취소에 실패했습니다", id)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.claimedOrMissing(ctx, id)
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_deletions WHERE id = ?`, id); err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 예약(%s) 제거에 실패했습니다", id)
	}
	return nil
}

// =============================================================================
// Markers
// =============================================================================

func (s *Store) PutMarker(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_deletion_markers (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 대기 마커(%s) 저장에 실패했습니다", key)
	}
	return nil
}

func (s *Store) GetMarker(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM pending_deletion_markers WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrapf(err, apperrors.System, "삭제 대기 마커(%s) 조회에 실패했습니다", key)
	}
	return value, true, nil
}

func (s *Store) DeleteMarker(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_deletion_markers WHERE key = ?`, key); err != nil {
		return apperrors.Wrapf(err, apperrors.System, "삭제 대기 마커(%s) 제거에 실패했습니다", key)
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

func (s *Store) Update(ctx context.Context, fn func(tx deletion.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.System, "트랜잭션 시작에 실패했습니다")
	}

	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.System, "트랜잭션 커밋에 실패했습니다")
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) DeleteEntity(ref deletion.EntityRef) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`, string(ref.Type), ref.ID); err != nil {
		return apperrors.Wrapf(err, apperrors.System, "엔티티(%s) 삭제에 실패했습니다", ref)
	}
	return nil
}

func (t *tx) ClearAttr(ref deletion.EntityRef, key string) error {
	if _, err := t.tx.ExecContext(t.ctx, `UPDATE entities SET attrs = json_remove(attrs, ?) WHERE entity_type = ? AND entity_id = ?`, attrPath(key), string(ref.Type), ref.ID); err != nil {
		return apperrors.Wrapf(err, apperrors.System, "엔티티(%s)의 '%s' 연결 해제에 실패했습니다", ref, key)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
