package deletion

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	"github.com/darkkaiser/deletion-server/pkg/concurrency"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

const componentScheduler = "deletion.scheduler"

// Scheduler 엔티티의 삭제를 예약하거나 취소합니다.
type Scheduler struct {
	store   Store
	clock   clock.Clock
	metrics *Metrics

	defaultDelay time.Duration

	// 같은 프로세스 안에서 같은 대상에 대한 Schedule/Cancel 호출을 직렬화합니다.
	targetLocks *concurrency.KeyedMutex

	newID func() string
}

// SchedulerOption Scheduler의 선택 설정입니다.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock 현재 시각을 제공할 Clock을 지정합니다.
func WithSchedulerClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSchedulerMetrics 예약 관련 지표를 기록할 Metrics를 지정합니다.
func WithSchedulerMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDefaultDelay ScheduleDefault가 사용할 유예 기간을 지정합니다.
func WithDefaultDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.defaultDelay = d }
}

// NewScheduler Scheduler를 생성합니다.
func NewScheduler(store Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:       store,
		clock:       clock.WallClock,
		targetLocks: concurrency.NewKeyedMutex(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule 엔티티를 삭제 대기 상태로 바꾸고 delay 이후에 삭제되도록 예약합니다.
//
// 선점되지 않은 예약이 이미 있으면 새 예약을 만들지 않고 기존 예약의 실행 시각을 now+delay로 바꿉니다.
// 요청자는 actor가 주어진 경우에만 교체합니다. 이미 실행 중이면 ErrDeletionInProgress를 반환합니다.
func (s *Scheduler) Schedule(ctx context.Context, ref EntityRef, actor *ActorRef, delay time.Duration) (*ScheduledDeletion, error) {
	if delay < 0 {
		return nil, newErrInvalidDelay(delay)
	}

	var result *ScheduledDeletion
	err := s.targetLocks.WithLock(ref.String(), func() error {
		entity, err := s.store.GetEntity(ctx, ref)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		dueAt := now.Add(delay)

		existing, err := s.store.FindScheduleByTarget(ctx, ref)
		switch {
		case err == nil:
			result, err = s.reschedule(ctx, entity, existing, dueAt, actor)
			return err
		case !errors.Is(err, ErrScheduleNotFound):
			return apperrors.Wrap(err, apperrors.System, "기존 삭제 예약 조회에 실패했습니다")
		}

		if err := s.markPending(ctx, entity); err != nil {
			return err
		}

		sd := &ScheduledDeletion{
			ID:        s.newID(),
			Target:    ref,
			Actor:     actor,
			DueAt:     dueAt,
			CreatedAt: now,
		}
		if err := s.store.CreateSchedule(ctx, sd); err != nil {
			if errors.Is(err, ErrScheduleExists) {
				// 다른 프로세스가 먼저 예약을 생성했습니다. 그 예약의 실행 시각을 변경합니다.
				existing, findErr := s.store.FindScheduleByTarget(ctx, ref)
				switch {
				case findErr == nil:
					result, err = s.reschedule(ctx, entity, existing, dueAt, actor)
					return err
				case errors.Is(findErr, ErrScheduleNotFound):
					return err
				default:
					return apperrors.Wrap(findErr, apperrors.System, "기존 삭제 예약 조회에 실패했습니다")
				}
			}
			return apperrors.Wrap(err, apperrors.System, "삭제 예약 저장에 실패했습니다")
		}

		s.metrics.scheduleCreated(ref.Type)

		applog.WithComponentAndFields(componentScheduler, applog.Fields{
			"schedule_id": sd.ID,
			"target":      ref.String(),
			"due_at":      sd.DueAt,
			"has_actor":   actor != nil,
		}).Info("삭제 예약 생성")

		result = sd
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ScheduleDefault WithDefaultDelay로 지정한 유예 기간으로 Schedule을 호출합니다.
func (s *Scheduler) ScheduleDefault(ctx context.Context, ref EntityRef, actor *ActorRef) (*ScheduledDeletion, error) {
	return s.Schedule(ctx, ref, actor, s.defaultDelay)
}

func (s *Scheduler) reschedule(ctx context.Context, entity *Entity, existing *ScheduledDeletion, dueAt time.Time, actor *ActorRef) (*ScheduledDeletion, error) {
	if existing.InProgress {
		return nil, ErrDeletionInProgress
	}

	if err := s.store.RescheduleUnclaimed(ctx, existing.ID, dueAt, actor); err != nil {
		if errors.Is(err, ErrScheduleClaimed) {
			return nil, ErrDeletionInProgress
		}
		return nil, apperrors.Wrap(err, apperrors.System, "삭제 예약 변경에 실패했습니다")
	}

	// 예약 이후 상태가 되돌려졌을 수 있으므로 다시 삭제 대기 상태로 맞춥니다.
	if err := s.markPending(ctx, entity); err != nil {
		return nil, err
	}

	updated := existing.Clone()
	updated.DueAt = dueAt
	if actor != nil {
		updated.Actor = actor
	}

	applog.WithComponentAndFields(componentScheduler, applog.Fields{
		"schedule_id":  updated.ID,
		"target":       updated.Target.String(),
		"previous_due": existing.DueAt,
		"due_at":       dueAt,
	}).Info("기존 삭제 예약의 실행 시각 변경")

	return updated, nil
}

// markPending 엔티티를 삭제 대기 상태로 바꾸고 마커를 기록합니다.
func (s *Scheduler) markPending(ctx context.Context, entity *Entity) error {
	if entity.Status != StatusPendingDeletion {
		if err := s.store.SetStatus(ctx, entity.Ref, StatusPendingDeletion); err != nil {
			return apperrors.Wrap(err, apperrors.System, "엔티티 상태 변경에 실패했습니다")
		}
	}
	if err := s.store.PutMarker(ctx, MarkerKey(entity.Ref), s.clock.Now().UTC().Format(time.RFC3339)); err != nil {
		return apperrors.Wrap(err, apperrors.System, "삭제 대기 마커 기록에 실패했습니다")
	}
	return nil
}

// Cancel 선점되지 않은 예약을 취소합니다.
//
// 같은 엔티티를 대상으로 하는 다른 예약이 없을 때에만 엔티티를 ACTIVE로 되돌리고 마커를 제거합니다.
func (s *Scheduler) Cancel(ctx context.Context, scheduleID string) error {
	sd, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	return s.targetLocks.WithLock(sd.Target.String(), func() error {
		if err := s.store.RemoveUnclaimedSchedule(ctx, scheduleID); err != nil {
			return err
		}

		if _, err := s.store.FindScheduleByTarget(ctx, sd.Target); err == nil {
			return nil
		} else if !errors.Is(err, ErrScheduleNotFound) {
			return apperrors.Wrap(err, apperrors.System, "남은 삭제 예약 조회에 실패했습니다")
		}

		if err := s.store.SetStatus(ctx, sd.Target, StatusActive); err != nil && !errors.Is(err, ErrEntityNotFound) {
			return apperrors.Wrap(err, apperrors.System, "엔티티 상태 복원에 실패했습니다")
		}
		if err := s.store.DeleteMarker(ctx, MarkerKey(sd.Target)); err != nil {
			return apperrors.Wrap(err, apperrors.System, "삭제 대기 마커 제거에 실패했습니다")
		}

		s.metrics.scheduleCancelled(sd.Target.Type)

		applog.WithComponentAndFields(componentScheduler, applog.Fields{
			"schedule_id": scheduleID,
			"target":      sd.Target.String(),
		}).Info("삭제 예약 취소")

		return nil
	})
}
