// Package memory 프로세스 메모리에 데이터를 보관하는 deletion.Store 구현체를 제공합니다.
//
// 개발 환경과 테스트 용도이며, 프로세스가 종료되면 모든 데이터가 사라집니다.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/darkkaiser/deletion-server/internal/service/deletion"
)

var _ deletion.Store = (*Store)(nil)

// Store 모든 연산을 하나의 Mutex로 직렬화하는 메모리 저장소입니다.
type Store struct {
	mu sync.Mutex

	entities  map[deletion.EntityRef]*deletion.Entity
	schedules map[string]*deletion.ScheduledDeletion
	byTarget  map[deletion.EntityRef]string
	markers   map[string]string
}

// New 빈 메모리 저장소를 생성합니다.
func New() *Store {
	return &Store{
		entities:  make(map[deletion.EntityRef]*deletion.Entity),
		schedules: make(map[string]*deletion.ScheduledDeletion),
		byTarget:  make(map[deletion.EntityRef]string),
		markers:   make(map[string]string),
	}
}

func (s *Store) PutEntity(_ context.Context, e *deletion.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[e.Ref] = e.Clone()
	return nil
}

func (s *Store) GetEntity(_ context.Context, ref deletion.EntityRef) (*deletion.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[ref]
	if !ok {
		return nil, deletion.ErrEntityNotFound
	}
	return e.Clone(), nil
}

func (s *Store) FindEntities(_ context.Context, typ deletion.EntityType, key, value string) ([]*deletion.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*deletion.Entity
	for ref, e := range s.entities {
		if ref.Type != typ {
			continue
		}
		if v, ok := e.Attrs[key]; ok && v == value {
			found = append(found, e.Clone())
		}
	}
	return found, nil
}

func (s *Store) SetStatus(_ context.Context, ref deletion.EntityRef, status deletion.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[ref]
	if !ok {
		return deletion.ErrEntityNotFound
	}
	e.Status = status
	return nil
}

func (s *Store) CreateSchedule(_ context.Context, sd *deletion.ScheduledDeletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTarget[sd.Target]; exists {
		return deletion.ErrScheduleExists
	}
	s.schedules[sd.ID] = sd.Clone()
	s.byTarget[sd.Target] = sd.ID
	return nil
}

func (s *Store) GetSchedule(_ context.Context, id string) (*deletion.ScheduledDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, ok := s.schedules[id]
	if !ok {
		return nil, deletion.ErrScheduleNotFound
	}
	return sd.Clone(), nil
}

func (s *Store) FindScheduleByTarget(_ context.Context, ref deletion.EntityRef) (*deletion.ScheduledDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTarget[ref]
	if !ok {
		return nil, deletion.ErrScheduleNotFound
	}
	return s.schedules[id].Clone(), nil
}

func (s *Store) RescheduleUnclaimed(_ context.Context, id string, dueAt time.Time, actor *deletion.ActorRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, ok := s.schedules[id]
	if !ok {
		return deletion.ErrScheduleNotFound
	}
	if sd.InProgress {
		return deletion.ErrScheduleClaimed
	}

	sd.DueAt = dueAt
	if actor != nil {
		a := *actor
		sd.Actor = &a
	}
	return nil
}

func (s *Store) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]*deletion.ScheduledDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*deletion.ScheduledDeletion
	for _, sd := range s.schedules {
		if sd.IsDue(now) {
			due = append(due, sd.Clone())
		}
	}
	slices.SortFunc(due, func(a, b *deletion.ScheduledDeletion) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimSchedule(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, ok := s.schedules[id]
	if !ok || sd.InProgress {
		return false, nil
	}
	sd.InProgress = true
	return true, nil
}

func (s *Store) RemoveUnclaimedSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd, ok := s.schedules[id]
	if !ok {
		return deletion.ErrScheduleNotFound
	}
	if sd.InProgress {
		return deletion.ErrScheduleClaimed
	}
	s.removeSchedule(sd)
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sd, ok := s.schedules[id]; ok {
		s.removeSchedule(sd)
	}
	return nil
}

func (s *Store) removeSchedule(sd *deletion.ScheduledDeletion) {
	delete(s.schedules, sd.ID)
	if s.byTarget[sd.Target] == sd.ID {
		delete(s.byTarget, sd.Target)
	}
}

func (s *Store) PutMarker(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[key] = value
	return nil
}

func (s *Store) GetMarker(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.markers[key]
	return v, ok, nil
}

func (s *Store) DeleteMarker(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.markers, key)
	return nil
}

// Update fn이 기록한 변경 사항을 fn이 성공한 경우에만 한 번에 반영합니다.
// fn 안에서 Store의 다른 메서드를 호출하면 교착 상태가 발생합니다.
func (s *Store) Update(ctx context.Context, fn func(tx deletion.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(t); err != nil {
		return err
	}
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// tx 변경 작업을 버퍼에 모아두었다가 커밋 시점에 적용합니다.
type tx struct {
	store *Store
	ops   []func()
}

func (t *tx) DeleteEntity(ref deletion.EntityRef) error {
	t.ops = append(t.ops, func() {
		delete(t.store.entities, ref)
	})
	return nil
}

func (t *tx) ClearAttr(ref deletion.EntityRef, key string) error {
	t.ops = append(t.ops, func() {
		if e, ok := t.store.entities[ref]; ok {
			delete(e.Attrs, key)
		}
	})
	return nil
}
