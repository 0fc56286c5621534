package deletion

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/darkkaiser/deletion-server/internal/pkg/errors"
)

// RelationKind 부모가 삭제될 때 자식에게 적용할 처리 방식입니다.
type RelationKind int

const (
	// RelationHard 자식도 함께 삭제합니다.
	RelationHard RelationKind = iota

	// RelationDetach 자식은 남기고 부모를 가리키는 속성(Edge.Key)만 비웁니다.
	RelationDetach
)

func (k RelationKind) String() string {
	switch k {
	case RelationHard:
		return "hard"
	case RelationDetach:
		return "detach"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// Edge 부모 타입과 자식 타입 사이의 의존 관계입니다.
// 자식 엔티티는 Key 속성의 값이 부모 ID와 같을 때 해당 부모에 속합니다.
type Edge struct {
	Parent EntityType
	Child  EntityType
	Kind   RelationKind
	Key    string
}

// TypeSpec 엔티티 타입별 삭제 정책입니다.
type TypeSpec struct {
	Type EntityType

	// ProviderAttr 외부 리소스 정리를 담당할 Provider ID가 저장된 속성 이름. 비어 있으면 외부 정리를 수행하지 않습니다.
	ProviderAttr string

	// FailureSubject 삭제 실패 알림의 제목. 비어 있으면 "Unable to Delete <Type>"을 사용합니다.
	FailureSubject string
}

// Graph 엔티티 타입 사이의 의존 관계를 선언적으로 정의한 테이블입니다.
//
// 구성이 끝난 뒤에는 읽기 전용으로만 사용해야 합니다.
type Graph struct {
	specs map[EntityType]TypeSpec
	edges map[EntityType][]Edge
}

// NewGraph 빈 Graph를 생성합니다.
func NewGraph() *Graph {
	return &Graph{
		specs: make(map[EntityType]TypeSpec),
		edges: make(map[EntityType][]Edge),
	}
}

// Register 엔티티 타입을 등록합니다. 같은 타입을 다시 등록하면 정책을 교체합니다.
func (g *Graph) Register(spec TypeSpec) *Graph {
	g.specs[spec.Type] = spec
	return g
}

// AddEdge 의존 관계를 추가합니다. 검증은 Validate에서 수행합니다.
func (g *Graph) AddEdge(e Edge) *Graph {
	g.edges[e.Parent] = append(g.edges[e.Parent], e)
	return g
}

// Spec 엔티티 타입의 정책을 반환합니다.
func (g *Graph) Spec(t EntityType) (TypeSpec, bool) {
	spec, ok := g.specs[t]
	return spec, ok
}

// Children 부모 타입에서 나가는 의존 관계를 등록 순서대로 반환합니다.
func (g *Graph) Children(t EntityType) []Edge {
	return g.edges[t]
}

// FailureSubject 삭제 실패 알림의 제목을 반환합니다.
func (g *Graph) FailureSubject(t EntityType) string {
	if spec, ok := g.specs[t]; ok && spec.FailureSubject != "" {
		return spec.FailureSubject
	}
	return "Unable to Delete " + titleCase(string(t))
}

// Validate 그래프의 정합성을 검증합니다.
//
//   - 모든 Edge의 양 끝 타입이 등록되어 있어야 합니다.
//   - Edge.Key가 비어 있으면 안 됩니다.
//   - 타입 수준에서 순환이 없어야 합니다. (Detach 관계는 자식을 따라 내려가지 않으므로 제외)
func (g *Graph) Validate() error {
	for parent, edges := range g.edges {
		for _, e := range edges {
			if _, ok := g.specs[parent]; !ok {
				return newErrUnknownEntityType(parent)
			}
			if _, ok := g.specs[e.Child]; !ok {
				return newErrUnknownEntityType(e.Child)
			}
			if strings.TrimSpace(e.Key) == "" {
				return apperrors.Newf(apperrors.InvalidInput, "의존 관계(%s → %s)의 조회 키가 비어 있습니다", e.Parent, e.Child)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[EntityType]int, len(g.specs))

	var visit func(t EntityType, path []EntityType) error
	visit = func(t EntityType, path []EntityType) error {
		switch state[t] {
		case visiting:
			return apperrors.Newf(apperrors.InvalidInput, "의존 관계 그래프에 순환이 존재합니다: %s", joinTypes(slices.Concat(path, []EntityType{t})))
		case done:
			return nil
		}

		state[t] = visiting
		for _, e := range g.edges[t] {
			if e.Kind != RelationHard {
				continue
			}
			if err := visit(e.Child, slices.Concat(path, []EntityType{t})); err != nil {
				return err
			}
		}
		state[t] = done

		return nil
	}

	for t := range g.specs {
		if err := visit(t, nil); err != nil {
			return err
		}
	}

	return nil
}

func joinTypes(types []EntityType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, " → ")
}

// titleCase "repository_project" → "Repository Project"
func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
