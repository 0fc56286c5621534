package deletion

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "deletion"

// Metrics 삭제 서브시스템의 Prometheus 지표입니다.
//
// 지표:
//   - deletion_schedules_created_total: 생성된 삭제 예약 수 (entity_type)
//   - deletion_schedules_cancelled_total: 취소된 삭제 예약 수 (entity_type)
//   - deletion_runs_total: 실행 결과별 삭제 실행 수 (entity_type, outcome)
//   - deletion_actions_total: 실행된 삭제 작업 수 (entity_type, kind)
//   - deletion_notifications_total: 실패 알림 발송 결과 (channel, result)
//
// nil *Metrics는 아무것도 기록하지 않습니다.
type Metrics struct {
	schedulesCreated   *prometheus.CounterVec
	schedulesCancelled *prometheus.CounterVec
	runs               *prometheus.CounterVec
	actions            *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// 실행 결과 (deletion_runs_total의 outcome 레이블)
const (
	OutcomeDeleted            = "deleted"
	OutcomeDeletedWithErrors  = "deleted_with_errors"
	OutcomePreconditionFailed = "precondition_changed"
	OutcomeClaimConflict      = "claim_conflict"
	OutcomeFailed             = "failed"
)

// NewMetrics 지표를 생성하고 registerer에 등록합니다.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		schedulesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "schedules_created_total",
				Help:      "Total number of deletion schedules created",
			},
			[]string{"entity_type"},
		),
		schedulesCancelled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "schedules_cancelled_total",
				Help:      "Total number of deletion schedules cancelled before execution",
			},
			[]string{"entity_type"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Total number of scheduled deletion runs by outcome",
			},
			[]string{"entity_type", "outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "actions_total",
				Help:      "Total number of cascade actions applied",
			},
			[]string{"entity_type", "kind"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_total",
				Help:      "Total number of deletion failure notifications by channel and result",
			},
			[]string{"channel", "result"},
		),
	}

	registerer.MustRegister(
		m.schedulesCreated,
		m.schedulesCancelled,
		m.runs,
		m.actions,
		m.notifications,
	)

	return m
}

func (m *Metrics) scheduleCreated(t EntityType) {
	if m == nil {
		return
	}
	m.schedulesCreated.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) scheduleCancelled(t EntityType) {
	if m == nil {
		return
	}
	m.schedulesCancelled.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) runFinished(t EntityType, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(t), outcome).Inc()
}

func (m *Metrics) actionApplied(t EntityType, kind ActionKind) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(t), kind.String()).Inc()
}

func (m *Metrics) notificationSent(channel string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
