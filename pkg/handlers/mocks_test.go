package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/models"
	"github.com/ppcxy/cyfm-engine/pkg/repositories"
	"github.com/ppcxy/cyfm-engine/pkg/services"
)

// mockDatasourceService is a configurable DatasourceService for handler tests.
type mockDatasourceService struct {
	infos      []services.DatasourceInfo
	current    *datasource.HandleInfo
	result     *services.SwitchResult
	switchErr  error
	retireErr  error
	testErr    error
	stats      datasource.ManagerStats
	types      []datasource.DatasourceAdapterInfo
	switchedTo string
	retiredID  string
	testedName string
}

func (m *mockDatasourceService) List(ctx context.Context) []services.DatasourceInfo {
	return m.infos
}

func (m *mockDatasourceService) Current(ctx context.Context) (*datasource.HandleInfo, error) {
	if m.current == nil {
		return nil, apperrors.ErrNotBound
	}
	return m.current, nil
}

func (m *mockDatasourceService) Switch(ctx context.Context, name string) (*services.SwitchResult, error) {
	m.switchedTo = name
	if m.switchErr != nil {
		return nil, m.switchErr
	}
	return m.result, nil
}

func (m *mockDatasourceService) Retire(ctx context.Context, id string) error {
	m.retiredID = id
	return m.retireErr
}

func (m *mockDatasourceService) Stats(ctx context.Context) datasource.ManagerStats {
	return m.stats
}

func (m *mockDatasourceService) TestConnection(ctx context.Context, name string) error {
	m.testedName = name
	return m.testErr
}

func (m *mockDatasourceService) ListTypes(ctx context.Context) []datasource.DatasourceAdapterInfo {
	return m.types
}

func (m *mockDatasourceService) Start(ctx context.Context, initial string) error {
	return nil
}

var _ services.DatasourceService = (*mockDatasourceService)(nil)

func boundHandleInfo(name string) *datasource.HandleInfo {
	return &datasource.HandleInfo{
		ID:      uuid.New(),
		Name:    name,
		Dialect: datasource.DialectPostgreSQL,
		Type:    "postgres",
	}
}

// mockUserService is a configurable UserService for handler tests.
type mockUserService struct {
	users     map[int64]*models.User
	createErr error
	updateErr error
	listErr   error

	// Capture inputs for verification
	created     *models.User
	updated     *models.User
	deletedID   int64
	lastFilters []repositories.SearchFilter
	lastPage    repositories.Page
}

func newMockUserService(users ...*models.User) *mockUserService {
	m := &mockUserService{users: make(map[int64]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserService) Get(ctx context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return u, nil
}

func (m *mockUserService) List(ctx context.Context, page repositories.Page) ([]*models.User, error) {
	m.lastPage = page
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.all(), nil
}

func (m *mockUserService) Search(ctx context.Context, filters []repositories.SearchFilter, page repositories.Page) ([]*models.User, error) {
	m.lastFilters = filters
	m.lastPage = page
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.all(), nil
}

func (m *mockUserService) Count(ctx context.Context, filters []repositories.SearchFilter) (int64, error) {
	return int64(len(m.users)), nil
}

func (m *mockUserService) Create(ctx context.Context, user *models.User) error {
	m.created = user
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = int64(len(m.users) + 1)
	m.users[user.ID] = user
	return nil
}

func (m *mockUserService) Update(ctx context.Context, user *models.User) error {
	m.updated = user
	if m.updateErr != nil {
		return m.updateErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserService) Delete(ctx context.Context, id int64) error {
	m.deletedID = id
	if _, ok := m.users[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockUserService) all() []*models.User {
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

var _ services.UserService = (*mockUserService)(nil)
