package deletion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
	applog "github.com/darkkaiser/deletion-server/pkg/log"
)

const (
	componentExecutor = "deletion.executor"

	// DefaultBatchSize RunDue 한 번에 처리하는 최대 예약 수의 기본값
	DefaultBatchSize = 100
)

// Notifier 삭제 실패를 요청자에게 알립니다. *FailureNotifier가 구현합니다.
type Notifier interface {
	Notify(ctx context.Context, actor *ActorRef, target EntityRef, description string, cause error) error
}

// RunSummary RunDue 한 번의 처리 결과입니다.
//
// 정리 작업 일부가 실패했지만 루트는 삭제된 실행은 Deleted와 Failed에 모두 집계됩니다.
type RunSummary struct {
	Claimed int // 선점에 성공한 예약 수
	Deleted int // 루트 엔티티까지 삭제된 수
	Skipped int // 선점 경합에서 졌거나 엔티티 상태가 바뀌어 건너뛴 수
	Failed  int // 에러가 발생한 수
}

func (s RunSummary) String() string {
	return fmt.Sprintf("claimed=%d deleted=%d skipped=%d failed=%d", s.Claimed, s.Deleted, s.Skipped, s.Failed)
}

// Executor 실행 시각이 된 삭제 예약을 처리합니다.
//
// 저장소와 주기 실행 방식에 의존하지 않으며, 여러 인스턴스가 동시에 RunDue를 호출해도
// 예약 하나는 정확히 한 인스턴스에서만 실행됩니다.
type Executor struct {
	store     Store
	resolver  *Resolver
	graph     *Graph
	providers *ProviderRegistry
	notifier  Notifier
	metrics   *Metrics

	batchSize int
}

// ExecutorOption Executor의 선택 설정입니다.
type ExecutorOption func(*Executor)

// WithBatchSize RunDue 한 번에 처리할 최대 예약 수를 지정합니다.
func WithBatchSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithExecutorMetrics 실행 지표를 기록할 Metrics를 지정합니다.
func WithExecutorMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor Executor를 생성합니다.
func NewExecutor(store Store, resolver *Resolver, providers *ProviderRegistry, notifier Notifier, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:     store,
		resolver:  resolver,
		graph:     resolver.graph,
		providers: providers,
		notifier:  notifier,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunDue now 시점에 실행 대상인 예약을 처리합니다.
//
// 개별 예약의 실패는 RunSummary에 집계되며, 반환 에러는 예약 목록 조회 실패나 컨텍스트 취소에 한정됩니다.
func (e *Executor) RunDue(ctx context.Context, now time.Time) (RunSummary, error) {
	var summary RunSummary

	due, err := e.store.ListDueSchedules(ctx, now, e.batchSize)
	if err != nil {
		return summary, apperrors.Wrap(err, apperrors.System, "실행 대상 삭제 예약 조회에 실패했습니다")
	}

	for _, sd := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		e.run(ctx, sd, &summary)
	}

	return summary, nil
}

func (e *Executor) run(ctx context.Context, sd *ScheduledDeletion, summary *RunSummary) {
	logger := applog.WithComponentAndFields(componentExecutor, applog.Fields{
		"schedule_id": sd.ID,
		"target":      sd.Target.String(),
	})

	claimed, err := e.store.ClaimSchedule(ctx, sd.ID)
	if err != nil {
		logger.WithError(err).Error("삭제 예약 선점에 실패했습니다")
		summary.Failed++
		e.metrics.runFinished(sd.Target.Type, OutcomeFailed)
		return
	}
	if !claimed {
		logger.Debug("다른 워커가 이미 선점한 예약이므로 건너뜁니다")
		summary.Skipped++
		e.metrics.runFinished(sd.Target.Type, OutcomeClaimConflict)
		return
	}
	summary.Claimed++

	// 예약과 마커는 결과와 관계없이 제거합니다.
	defer e.discard(ctx, sd, logger)

	entity, err := e.store.GetEntity(ctx, sd.Target)
	if err == nil && entity.Status != StatusPendingDeletion {
		err = ErrNotPendingDeletion
	}
	if errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrNotPendingDeletion) {
		logger.Info("엔티티가 더 이상 삭제 대기 상태가 아니므로 예약을 폐기합니다")
		summary.Skipped++
		e.metrics.runFinished(sd.Target.Type, OutcomePreconditionFailed)
		return
	}
	if err != nil {
		logger.WithError(err).Error("삭제 대상 엔티티 조회에 실패했습니다")
		summary.Failed++
		e.metrics.runFinished(sd.Target.Type, OutcomeFailed)
		e.notify(ctx, sd, nil, err, logger)
		return
	}

	actions, err := e.resolver.Plan(ctx, sd.Target)
	if err != nil {
		// 아무것도 삭제하지 않았으므로 엔티티는 삭제 대기 상태로 남습니다.
		logger.WithError(err).Error("삭제 계획 수립에 실패했습니다")
		summary.Failed++
		e.metrics.runFinished(sd.Target.Type, OutcomeFailed)
		e.notify(ctx, sd, entity, err, logger)
		return
	}

	root := actions[len(actions)-1]
	var errs []error
	txFailed := false
	for _, batch := range groupByType(actions[:len(actions)-1]) {
		cleanupErrs, txErr := e.applyBatch(ctx, batch)
		errs = append(errs, cleanupErrs...)
		if txErr != nil {
			// 남은 작업은 실패한 묶음의 상위 엔티티일 수 있으므로 더 진행하지 않습니다.
			errs = append(errs, txErr)
			txFailed = true
			break
		}
	}

	// 외부 정리 작업이 실패했더라도 루트 엔티티는 삭제합니다.
	// 하위 엔티티 삭제 트랜잭션이 실패했다면 루트를 남겨 두어야 재예약으로 남은 하위 엔티티에 도달할 수 있습니다.
	rootDeleted := false
	if !txFailed {
		if err := e.cleanupExternal(ctx, root.Entity); err != nil {
			errs = append(errs, err)
		}

		if err := e.store.Update(ctx, func(tx Tx) error {
			return tx.DeleteEntity(root.Ref())
		}); err != nil {
			errs = append(errs, apperrors.Wrapf(err, apperrors.System, "루트 엔티티(%s) 삭제에 실패했습니다", root.Ref()))
		} else {
			rootDeleted = true
			e.metrics.actionApplied(root.Ref().Type, ActionDelete)
			summary.Deleted++
		}
	}

	cause := errors.Join(errs...)

	fields := applog.Fields{
		"actions":      len(actions),
		"root_deleted": rootDeleted,
	}
	switch {
	case cause == nil:
		logger.WithFields(fields).Info("삭제 완료")
		e.metrics.runFinished(sd.Target.Type, OutcomeDeleted)
		return
	case rootDeleted:
		logger.WithFields(fields).WithError(cause).Warn("삭제는 완료되었으나 일부 정리 작업이 실패했습니다")
		e.metrics.runFinished(sd.Target.Type, OutcomeDeletedWithErrors)
	default:
		logger.WithFields(fields).WithError(cause).Error("삭제에 실패했습니다")
		e.metrics.runFinished(sd.Target.Type, OutcomeFailed)
	}

	summary.Failed++
	e.notify(ctx, sd, entity, cause, logger)
}

// applyBatch 같은 타입의 연속된 작업을 하나의 트랜잭션으로 적용합니다.
// 외부 정리 실패는 수집만 하고 행 삭제는 계속 진행합니다. 트랜잭션 실패는 txErr로 따로 반환합니다.
func (e *Executor) applyBatch(ctx context.Context, batch []Action) (cleanupErrs []error, txErr error) {
	for _, a := range batch {
		if a.Kind != ActionDelete {
			continue
		}
		if err := e.cleanupExternal(ctx, a.Entity); err != nil {
			cleanupErrs = append(cleanupErrs, err)
		}
	}

	err := e.store.Update(ctx, func(tx Tx) error {
		for _, a := range batch {
			var err error
			switch a.Kind {
			case ActionDelete:
				err = tx.DeleteEntity(a.Ref())
			case ActionDetach:
				err = tx.ClearAttr(a.Ref(), a.Key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return cleanupErrs, apperrors.Wrapf(err, apperrors.System, "'%s' 타입 엔티티 %d건의 삭제 트랜잭션에 실패했습니다", batch[0].Ref().Type, len(batch))
	}

	for _, a := range batch {
		e.metrics.actionApplied(a.Ref().Type, a.Kind)
	}

	return cleanupErrs, nil
}

// cleanupExternal 엔티티 타입에 Provider가 지정되어 있으면 외부 리소스를 정리합니다.
func (e *Executor) cleanupExternal(ctx context.Context, entity *Entity) (err error) {
	spec, _ := e.graph.Spec(entity.Ref.Type)
	if spec.ProviderAttr == "" {
		return nil
	}
	id := entity.Attr(spec.ProviderAttr)
	if id == "" {
		return nil
	}

	p, ok := e.providers.Lookup(id)
	if !ok {
		return newErrProviderNotFound(id)
	}

	defer func() {
		if r := recover(); r != nil {
			applog.WithComponentAndFields(componentExecutor, applog.Fields{
				"provider": id,
				"target":   entity.Ref.String(),
				"panic":    r,
				"stack":    string(debug.Stack()),
			}).Error("Provider 실행 중 패닉이 발생했습니다")

			err = apperrors.Newf(apperrors.Internal, "Provider('%s') 실행 중 패닉이 발생했습니다: %v", id, r)
		}
	}()

	if err := p.DeleteExternalResource(ctx, entity); err != nil {
		return apperrors.Wrapf(err, apperrors.ExecutionFailed, "외부 리소스 정리에 실패했습니다 (provider=%s, target=%s)", id, entity.Ref)
	}

	return nil
}

// notify 요청자(없으면 엔티티 소유자)에게 실패를 알립니다.
func (e *Executor) notify(ctx context.Context, sd *ScheduledDeletion, entity *Entity, cause error, logger *applog.Entry) {
	actor := sd.Actor
	description := sd.Target.String()
	if entity != nil {
		if actor == nil {
			actor = entity.Owner
		}
		description = entity.describe()
	}

	if err := e.notifier.Notify(ctx, actor, sd.Target, description, cause); err != nil {
		logger.WithError(err).Error("삭제 실패 알림 발송에 실패했습니다")
	}
}

// discard 처리한 예약과 삭제 대기 마커를 제거합니다.
// 선점된 예약이 남지 않도록 상위 컨텍스트가 취소되어도 실행합니다.
func (e *Executor) discard(ctx context.Context, sd *ScheduledDeletion, logger *applog.Entry) {
	ctx = context.WithoutCancel(ctx)

	if err := e.store.DeleteSchedule(ctx, sd.ID); err != nil {
		logger.WithError(err).Error("처리한 삭제 예약 제거에 실패했습니다")
	}
	if err := e.store.DeleteMarker(ctx, MarkerKey(sd.Target)); err != nil {
		logger.WithError(err).Error("삭제 대기 마커 제거에 실패했습니다")
	}
}

// groupByType 연속된 같은 타입의 작업을 하나의 묶음으로 나눕니다. 순서는 유지됩니다.
func groupByType(actions []Action) [][]Action {
	var groups [][]Action
	for i := 0; i < len(actions); {
		j := i + 1
		for j < len(actions) && actions[j].Ref().Type == actions[i].Ref().Type {
			j++
		}
		groups = append(groups, actions[i:j])
		i = j
	}
	return groups
}
