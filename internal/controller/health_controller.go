package controller

import (
	"net/http"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthController struct {
	DB    *gorm.DB
	Graph *graph.Service
}

func NewHealthController(db *gorm.DB, graphService *graph.Service) *HealthController {
	return &HealthController{DB: db, Graph: graphService}
}

func (c *HealthController) HealthCheck(ctx *gin.Context) {
	sqlDB, err := c.DB.DB()
	if err != nil {
		util.InternalServerError(ctx)
		return
	}

	if err := sqlDB.Ping(); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	graphStatus := "up"
	if !c.Graph.IsLoaded() {
		graphStatus = "not loaded"
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"database": "up",
			"graph":    graphStatus,
		},
	})
}

// ReloadGraph rebuilds the in-memory knowledge graph from the database,
// for admins after a knowledge-base import.
func (c *HealthController) ReloadGraph(ctx *gin.Context) {
	if err := c.Graph.Load(ctx.Request.Context()); err != nil {
		util.Error(ctx, http.StatusInternalServerError, err.Error())
		return
	}
	util.Success(ctx, gin.H{"status": "reloaded"})
}
