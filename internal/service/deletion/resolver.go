package deletion

import (
	"context"
	"slices"
	"strings"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
)

// ActionKind 삭제 계획의 개별 작업 종류입니다.
type ActionKind int

const (
	ActionDelete ActionKind = iota
	ActionDetach
)

func (k ActionKind) String() string {
	if k == ActionDetach {
		return "detach"
	}
	return "delete"
}

// Action 삭제 계획의 작업 하나입니다.
type Action struct {
	Kind ActionKind

	// Entity 계획 수립 시점의 엔티티 스냅샷. 실행 시점에는 이미 사라졌을 수 있습니다.
	Entity *Entity

	// Key Detach 작업에서 비울 속성 이름
	Key string

	// IsRoot 삭제를 요청받은 엔티티 자신인지 여부. 항상 계획의 마지막 작업입니다.
	IsRoot bool
}

// Ref 작업 대상 엔티티를 반환합니다.
func (a Action) Ref() EntityRef {
	return a.Entity.Ref
}

// Resolver 삭제할 엔티티의 의존 엔티티를 찾아 실행 순서가 정해진 삭제 계획을 만듭니다.
//
// 저장소를 읽기만 하므로 이전 실행이 중간에 실패했더라도 안전하게 다시 호출할 수 있습니다.
type Resolver struct {
	store Store
	graph *Graph
}

// NewResolver Resolver를 생성합니다. graph가 유효하지 않으면 에러를 반환합니다.
func NewResolver(store Store, graph *Graph) (*Resolver, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{store: store, graph: graph}, nil
}

// Plan 삭제 대기 중인 엔티티의 삭제 계획을 반환합니다.
//
// 자식은 부모보다 먼저, 루트 엔티티는 마지막에 위치합니다. 여러 경로로 도달하는 엔티티는 한 번만 포함됩니다.
func (r *Resolver) Plan(ctx context.Context, ref EntityRef) ([]Action, error) {
	if _, ok := r.graph.Spec(ref.Type); !ok {
		return nil, newErrUnknownEntityType(ref.Type)
	}

	root, err := r.store.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if root.Status != StatusPendingDeletion {
		return nil, ErrNotPendingDeletion
	}

	p := planner{
		ctx:      ctx,
		store:    r.store,
		graph:    r.graph,
		deleted:  map[EntityRef]struct{}{root.Ref: {}},
		detached: make(map[string]struct{}),
	}
	if err := p.visit(root); err != nil {
		return nil, err
	}

	return append(p.actions, Action{Kind: ActionDelete, Entity: root, IsRoot: true}), nil
}

type planner struct {
	ctx   context.Context
	store Store
	graph *Graph

	deleted  map[EntityRef]struct{}
	detached map[string]struct{}

	actions []Action
}

// visit 후위 순회로 자식의 삭제 작업을 부모보다 먼저 추가합니다.
func (p *planner) visit(parent *Entity) error {
	for _, edge := range p.graph.Children(parent.Ref.Type) {
		children, err := p.store.FindEntities(p.ctx, edge.Child, edge.Key, parent.Ref.ID)
		if err != nil {
			return apperrors.Wrapf(err, apperrors.System, "의존 엔티티 조회에 실패했습니다 (%s → %s)", parent.Ref, edge.Child)
		}
		slices.SortFunc(children, func(a, b *Entity) int {
			return strings.Compare(a.Ref.ID, b.Ref.ID)
		})

		for _, child := range children {
			switch edge.Kind {
			case RelationHard:
				if _, seen := p.deleted[child.Ref]; seen {
					continue
				}
				p.deleted[child.Ref] = struct{}{}

				if err := p.visit(child); err != nil {
					return err
				}
				p.actions = append(p.actions, Action{Kind: ActionDelete, Entity: child})

			case RelationDetach:
				k := child.Ref.String() + "#" + edge.Key
				if _, seen := p.detached[k]; seen {
					continue
				}
				p.detached[k] = struct{}{}

				p.actions = append(p.actions, Action{Kind: ActionDetach, Entity: child, Key: edge.Key})
			}
		}
	}

	return nil
}
