//go:build integration

package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/plan"
	"github.com/deployflow/engine/internal/repository"
	"github.com/deployflow/engine/pkg/database"
	appErr "github.com/deployflow/engine/pkg/errors"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flows"),
		tcpostgres.WithUsername("flows"),
		tcpostgres.WithPassword("flows"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.OpenPostgres(ctx, dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Flow{}, &models.FlowGraph{}, &models.Deployment{}))
	return db
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (e *recordingEnqueuer) EnqueueDeployment(_ context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return nil
}

type fixture struct {
	users    repository.UserRepository
	flows    FlowService
	deploys  DeploymentService
	enqueued *recordingEnqueuer
}

func newFixture(t *testing.T) *fixture {
	db := startPostgres(t)
	flowRepo := repository.NewFlowRepository(db)
	graphRepo := repository.NewGraphRepository(db)
	enq := &recordingEnqueuer{}
	return &fixture{
		users:    repository.NewUserRepository(db),
		flows:    NewFlowService(db, flowRepo, graphRepo),
		deploys:  NewDeploymentService(flowRepo, graphRepo, repository.NewDeploymentRepository(db), plan.NewPlanner(catalog.Default()), enq),
		enqueued: enq,
	}
}

func (f *fixture) user(t *testing.T, email string) uuid.UUID {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "x", Name: email}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func deployableDocument(t *testing.T) *flow.Document {
	t.Helper()
	s := flow.NewStore()
	for _, role := range []flow.Role{flow.RoleBackend, flow.RoleDatabase, flow.RoleServer} {
		_, err := s.InsertNode(role, string(role), flow.Position{}, "")
		require.NoError(t, err)
	}
	doc := flow.NewDocument("Shop", "")
	doc.SetGraph(s)
	return doc
}

func TestIntegrationSaveAndLoadFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com")
	other := f.user(t, "other@example.com")

	saved, err := f.flows.SaveFlow(ctx, owner, deployableDocument(t))
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, 1, saved.Version)

	// Same graph: no new version.
	again, err := f.flows.SaveFlow(ctx, owner, saved)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version)

	st, err := saved.Store()
	require.NoError(t, err)
	require.NoError(t, st.MoveNode("node-1", flow.Position{X: 42}))
	saved.SetGraph(st)
	next, err := f.flows.SaveFlow(ctx, owner, saved)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)

	id := uuid.MustParse(saved.ID)
	loaded, err := f.flows.LoadFlow(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, 42.0, loaded.Nodes[0].Position.X)

	v1, err := f.flows.LoadVersion(ctx, id, owner, 1)
	require.NoError(t, err)
	assert.Zero(t, v1.Nodes[0].Position.X)

	versions, err := f.flows.ListVersions(ctx, id, owner)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsCurrent)

	restored, err := f.flows.RestoreVersion(ctx, id, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Version)
	loaded, err = f.flows.LoadFlow(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)

	_, err = f.flows.RestoreVersion(ctx, id, owner, 9)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	_, err = f.flows.LoadFlow(ctx, id, other)
	assert.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))

	_, err = f.flows.SaveFlow(ctx, other, loaded)
	assert.True(t, appErr.IsCode(err, appErr.CodeUnauthorized))

	require.NoError(t, f.flows.DeleteFlow(ctx, id, owner))
	_, err = f.flows.LoadFlow(ctx, id, owner)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestIntegrationDeploymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "deployer@example.com")

	saved, err := f.flows.SaveFlow(ctx, owner, deployableDocument(t))
	require.NoError(t, err)
	id := uuid.MustParse(saved.ID)

	d, err := f.deploys.StartDeployment(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentPending, d.Status)
	assert.Len(t, d.Plan.Data().Steps, 3)
	assert.Equal(t, []uuid.UUID{d.ID}, f.enqueued.ids)

	_, err = f.deploys.StartDeployment(ctx, id, owner)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	loaded, err := f.deploys.LoadDeployment(ctx, d.ID)
	require.NoError(t, err)
	require.NoError(t, f.deploys.MarkStarted(ctx, loaded))
	require.NoError(t, f.deploys.SaveNodeStatuses(ctx, d.ID, map[string]string{"node-1": "success", "node-2": "success", "node-3": "success"}))
	require.NoError(t, f.deploys.FinishDeployment(ctx, loaded, models.DeploymentCompleted, ""))

	got, err := f.deploys.GetDeployment(ctx, d.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCompleted, got.Status)
	assert.Equal(t, "success", got.NodeStatuses.Data()["node-2"])
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, time.Now(), *got.FinishedAt, time.Minute)

	doc, err := f.flows.LoadFlow(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, flow.FlowCompleted, doc.Status)
	assert.NotNil(t, doc.Metadata.LastDeployment)

	require.NoError(t, f.deploys.ResetDeployment(ctx, id, owner))
	doc, err = f.flows.LoadFlow(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, flow.FlowDraft, doc.Status)
}

func TestIntegrationStartRejectsIncompleteFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "partial@example.com")

	saved, err := f.flows.SaveFlow(ctx, owner, flow.NewDocument("Empty", ""))
	require.NoError(t, err)

	_, err = f.deploys.StartDeployment(ctx, uuid.MustParse(saved.ID), owner)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Empty(t, f.enqueued.ids)
}
