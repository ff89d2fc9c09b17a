package search

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/search/profiles", h.searchProfiles)
}

type searchQuery struct {
	Q                string `form:"q" binding:"required,min=2,max=100"`
	Type             string `form:"type" binding:"omitempty,oneof=name artist genre mixed"`
	City             string `form:"city"`
	RadiusKM         int    `form:"radius_km" binding:"omitempty,gte=10,lte=500"`
	Limit            int    `form:"limit" binding:"omitempty,gte=1,lte=100"`
	Offset           int    `form:"offset" binding:"omitempty,gte=0"`
	MinSharedArtists int    `form:"min_shared_artists" binding:"omitempty,gte=1,lte=50"`
}

func (h *Handler) searchProfiles(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requesterID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
		return
	}

	resp, err := h.service.Search(c.Request.Context(), Request{
		Query:            q.Q,
		Type:             Type(q.Type),
		RequesterID:      requesterID,
		City:             q.City,
		RadiusKM:         q.RadiusKM,
		Limit:            q.Limit,
		Offset:           q.Offset,
		MinSharedArtists: q.MinSharedArtists,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
