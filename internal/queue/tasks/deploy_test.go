package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/plan"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockDeploymentService struct {
	mock.Mock
}

func (m *mockDeploymentService) StartDeployment(ctx context.Context, flowID, userID uuid.UUID) (*models.Deployment, error) {
	args := m.Called(ctx, flowID, userID)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) GetDeployment(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error) {
	args := m.Called(ctx, deploymentID, userID)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) ListDeployments(ctx context.Context, flowID, userID uuid.UUID) ([]models.Deployment, error) {
	args := m.Called(ctx, flowID, userID)
	if v := args.Get(0); v != nil {
		return v.([]models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) ResetDeployment(ctx context.Context, flowID, userID uuid.UUID) error {
	return m.Called(ctx, flowID, userID).Error(0)
}

func (m *mockDeploymentService) LoadDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error) {
	args := m.Called(ctx, deploymentID)
	if v := args.Get(0); v != nil {
		return v.(*models.Deployment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeploymentService) MarkStarted(ctx context.Context, d *models.Deployment) error {
	return m.Called(ctx, d).Error(0)
}

// SaveNodeStatuses records a copy: the handler keeps mutating its map.
func (m *mockDeploymentService) SaveNodeStatuses(ctx context.Context, deploymentID uuid.UUID, statuses map[string]string) error {
	return m.Called(ctx, deploymentID, maps.Clone(statuses)).Error(0)
}

func (m *mockDeploymentService) FinishDeployment(ctx context.Context, d *models.Deployment, status, errMsg string) error {
	return m.Called(ctx, d, status, errMsg).Error(0)
}

type recordingPublisher struct {
	updates []progress.Update
}

func (p *recordingPublisher) Publish(_ context.Context, u progress.Update) error {
	p.updates = append(p.updates, u)
	return nil
}

func pendingDeployment() *models.Deployment {
	steps := []plan.Step{
		{Index: 0, NodeID: "node-1", Role: flow.RoleBackend, Action: "build"},
		{Index: 1, NodeID: "node-2", Role: flow.RoleDatabase, Action: "provision"},
	}
	return &models.Deployment{
		ID:           uuid.New(),
		FlowID:       uuid.New(),
		Status:       models.DeploymentPending,
		Plan:         datatypes.NewJSONType(plan.Plan{Steps: steps}),
		NodeStatuses: datatypes.NewJSONType(map[string]string{"node-1": "pending", "node-2": "pending"}),
	}
}

func deployTask(t *testing.T, id uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewDeployTask(id)
	require.NoError(t, err)
	return task
}

func setStatus(status string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(*models.Deployment).Status = status
	}
}

func savedStatuses(svc *mockDeploymentService) []map[string]string {
	var out []map[string]string
	for _, c := range svc.Calls {
		if c.Method == "SaveNodeStatuses" {
			out = append(out, c.Arguments.Get(2).(map[string]string))
		}
	}
	return out
}

func TestNewDeployTask(t *testing.T) {
	id := uuid.New()
	task := deployTask(t, id)
	assert.Equal(t, TypeFlowDeploy, task.Type())

	var p DeployPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, id.String(), p.DeploymentID)
}

func TestHandleDeployWalksStepsInOrder(t *testing.T) {
	d := pendingDeployment()
	svc := new(mockDeploymentService)
	svc.On("LoadDeployment", mock.Anything, d.ID).Return(d, nil)
	svc.On("MarkStarted", mock.Anything, d).Run(setStatus(models.DeploymentRunning)).Return(nil)
	svc.On("SaveNodeStatuses", mock.Anything, d.ID, mock.Anything).Return(nil)
	svc.On("FinishDeployment", mock.Anything, d, models.DeploymentCompleted, "").Run(setStatus(models.DeploymentCompleted)).Return(nil)

	pub := &recordingPublisher{}
	h := NewDeployTaskHandler(svc, pub, nil, time.Second)
	var slept []time.Duration
	h.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, h.HandleDeploy(context.Background(), deployTask(t, d.ID)))
	svc.AssertExpectations(t)

	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
	assert.Equal(t, []map[string]string{
		{"node-1": "running", "node-2": "pending"},
		{"node-1": "success", "node-2": "pending"},
		{"node-1": "success", "node-2": "running"},
		{"node-1": "success", "node-2": "success"},
	}, savedStatuses(svc))

	require.Len(t, pub.updates, 6)
	assert.Equal(t, "running", pub.updates[0].DeploymentStatus)
	assert.Empty(t, pub.updates[0].NodeID)
	assert.Equal(t, "node-1", pub.updates[1].NodeID)
	assert.Equal(t, flow.StatusRunning, pub.updates[1].Status)
	assert.Equal(t, flow.StatusSuccess, pub.updates[4].Status)
	assert.Equal(t, "completed", pub.updates[5].DeploymentStatus)
	for _, u := range pub.updates {
		assert.Equal(t, d.FlowID.String(), u.FlowID)
		assert.Equal(t, d.ID.String(), u.DeploymentID)
	}
}

func TestHandleDeployFailureMarksNodeAndDeployment(t *testing.T) {
	d := pendingDeployment()
	svc := new(mockDeploymentService)
	svc.On("LoadDeployment", mock.Anything, d.ID).Return(d, nil)
	svc.On("MarkStarted", mock.Anything, d).Run(setStatus(models.DeploymentRunning)).Return(nil)
	svc.On("SaveNodeStatuses", mock.Anything, d.ID, mock.Anything).Return(nil)
	svc.On("FinishDeployment", mock.Anything, d, models.DeploymentFailed, "context canceled").Run(setStatus(models.DeploymentFailed)).Return(nil)

	pub := &recordingPublisher{}
	h := NewDeployTaskHandler(svc, pub, nil, time.Second)
	calls := 0
	h.sleep = func(context.Context, time.Duration) error {
		calls++
		if calls == 2 {
			return context.Canceled
		}
		return nil
	}

	err := h.HandleDeploy(context.Background(), deployTask(t, d.ID))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	svc.AssertExpectations(t)

	saved := savedStatuses(svc)
	assert.Equal(t, map[string]string{"node-1": "success", "node-2": "error"}, saved[len(saved)-1])

	last := pub.updates[len(pub.updates)-1]
	assert.Equal(t, "failed", last.DeploymentStatus)
	assert.Equal(t, flow.StatusError, pub.updates[len(pub.updates)-2].Status)
}

func TestHandleDeploySkipsHandledDeployments(t *testing.T) {
	d := pendingDeployment()
	d.Status = models.DeploymentCompleted
	svc := new(mockDeploymentService)
	svc.On("LoadDeployment", mock.Anything, d.ID).Return(d, nil)

	h := NewDeployTaskHandler(svc, &recordingPublisher{}, nil, time.Second)
	require.NoError(t, h.HandleDeploy(context.Background(), deployTask(t, d.ID)))
	svc.AssertNotCalled(t, "MarkStarted", mock.Anything, mock.Anything)
}

func TestHandleDeployRejectsBadPayload(t *testing.T) {
	h := NewDeployTaskHandler(new(mockDeploymentService), nil, nil, time.Second)

	err := h.HandleDeploy(context.Background(), asynq.NewTask(TypeFlowDeploy, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	b, _ := json.Marshal(DeployPayload{DeploymentID: "not-a-uuid"})
	err = h.HandleDeploy(context.Background(), asynq.NewTask(TypeFlowDeploy, b))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleDeployLoadError(t *testing.T) {
	id := uuid.New()
	svc := new(mockDeploymentService)
	svc.On("LoadDeployment", mock.Anything, id).Return(nil, errors.New("db down"))

	h := NewDeployTaskHandler(svc, nil, nil, time.Second)
	err := h.HandleDeploy(context.Background(), deployTask(t, id))
	require.EqualError(t, err, "db down")
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
