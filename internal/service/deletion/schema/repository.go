// Package schema 저장소(Repository)를 루트로 하는 기본 엔티티 의존 관계 그래프를 정의합니다.
package schema

import (
	"github.com/darkkaiser/deletion-server/internal/service/deletion"
)

// 엔티티 타입
const (
	Repository                  deletion.EntityType = "repository"
	Commit                      deletion.EntityType = "commit"
	RepositoryProjectPathConfig deletion.EntityType = "repository_project_path_config"
	ProjectCodeOwners           deletion.EntityType = "project_code_owners"
	Project                     deletion.EntityType = "project"
)

// 부모를 가리키는 속성 이름
const (
	AttrRepositoryID                = "repository_id"
	AttrRepositoryProjectPathConfig = "repository_project_path_config_id"
	AttrSourceRepositoryID          = "source_repository_id"

	// AttrProvider 저장소의 외부 연동(웹훅)을 담당하는 Provider ID
	AttrProvider = "provider"

	// AttrName 알림에 표시할 이름
	AttrName = "name"
)

// RepositorySubject 저장소 삭제 실패 알림의 제목
const RepositorySubject = "Unable to Delete Repository Webhooks"

// NewRepositoryGraph 저장소 삭제 시 함께 정리해야 하는 엔티티의 관계를 구성합니다.
//
//	repository
//	 ├─(hard)   commit                          [repository_id]
//	 ├─(hard)   repository_project_path_config  [repository_id]
//	 │           └─(hard) project_code_owners   [repository_project_path_config_id]
//	 └─(detach) project                         [source_repository_id]
func NewRepositoryGraph() *deletion.Graph {
	return deletion.NewGraph().
		Register(deletion.TypeSpec{Type: Repository, ProviderAttr: AttrProvider, FailureSubject: RepositorySubject}).
		Register(deletion.TypeSpec{Type: Commit}).
		Register(deletion.TypeSpec{Type: RepositoryProjectPathConfig}).
		Register(deletion.TypeSpec{Type: ProjectCodeOwners}).
		Register(deletion.TypeSpec{Type: Project}).
		AddEdge(deletion.Edge{Parent: Repository, Child: Commit, Kind: deletion.RelationHard, Key: AttrRepositoryID}).
		AddEdge(deletion.Edge{Parent: Repository, Child: RepositoryProjectPathConfig, Kind: deletion.RelationHard, Key: AttrRepositoryID}).
		AddEdge(deletion.Edge{Parent: RepositoryProjectPathConfig, Child: ProjectCodeOwners, Kind: deletion.RelationHard, Key: AttrRepositoryProjectPathConfig}).
		AddEdge(deletion.Edge{Parent: Repository, Child: Project, Kind: deletion.RelationDetach, Key: AttrSourceRepositoryID})
}
