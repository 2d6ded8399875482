package graph

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Mock resolves every protocol step instantly with synthetic values
type Mock struct {
	published atomic.Int64
}

var _ API = (*Mock)(nil)

// NewMock creates a mock API
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) CreateContainer(ctx context.Context, in CreateContainerInput) (string, error) {
	return "mock-container-" + uuid.NewString(), nil
}

func (m *Mock) ContainerStatus(ctx context.Context, containerID, accessToken string) (*ContainerStatusOutput, error) {
	return &ContainerStatusOutput{ID: containerID, Status: ContainerStatusFinished}, nil
}

func (m *Mock) PublishContainer(ctx context.Context, userID, accessToken, containerID string) (string, error) {
	m.published.Add(1)
	return "mock-media-" + uuid.NewString(), nil
}

// Published returns how many containers were finalized
func (m *Mock) Published() int64 {
	return m.published.Load()
}
