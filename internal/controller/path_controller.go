package controller

import (
	"errors"
	"tutor_backend/internal/service"
	"tutor_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type PathController struct {
	PathService *service.PathService
}

func NewPathController(pathService *service.PathService) *PathController {
	return &PathController{PathService: pathService}
}

func (c *PathController) Overview(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	overview, err := c.PathService.Overview(claims.UserID)
	if err != nil {
		if errors.Is(err, util.ErrGraphNotLoaded) {
			util.Error(ctx, 503, "knowledge graph not loaded")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, overview)
}

func (c *PathController) NodeDetail(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	node, state, err := c.PathService.NodeDetail(claims.UserID, ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrNodeNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"node":  node,
		"state": state,
	})
}
