package service

import (
	"context"
	"testing"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/model"
	"tutor_backend/pkg/database"
	"tutor_backend/pkg/logger"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	logger.InitForTest()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// seedLinearGraph inserts algebra_1 -> algebra_2 -> algebra_3 with
// blocking edges, all in theme algebra, and loads the graph service.
func seedLinearGraph(t *testing.T, db *gorm.DB) *graph.Service {
	t.Helper()

	require.NoError(t, db.Create(&model.Theme{ID: "algebra", Name: "Algebra", Subject: "math"}).Error)
	for _, id := range []string{"algebra_1", "algebra_2", "algebra_3"} {
		require.NoError(t, db.Create(&model.ConceptNode{
			ID:      id,
			Name:    "Node " + id,
			Subject: "math",
			Kind:    model.NodeOperational,
		}).Error)
		require.NoError(t, db.Create(&model.NodeTheme{NodeID: id, ThemeID: "algebra"}).Error)
	}
	require.NoError(t, db.Create(&model.ConceptEdge{
		FromNodeID: "algebra_1", ToNodeID: "algebra_2", Dependency: model.DepBlocking,
	}).Error)
	require.NoError(t, db.Create(&model.ConceptEdge{
		FromNodeID: "algebra_2", ToNodeID: "algebra_3", Dependency: model.DepBlocking,
	}).Error)

	svc := graph.NewService(db)
	require.NoError(t, svc.Load(context.Background()))
	return svc
}

func newTestUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	user := &model.User{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "hashed",
		Role:     model.Student,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func newActiveSession(t *testing.T, db *gorm.DB, userID uint, focal string) *model.Session {
	t.Helper()
	session := &model.Session{
		UserID: userID,
		State:  model.SessionActive,
		Type:   "medium",
	}
	session.Orchestrator.FocalNodeID = focal
	if focal != "" {
		session.Orchestrator.CurrentActivity = model.ActivityExplanation
	}
	require.NoError(t, db.Create(session).Error)
	return session
}
