package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleTrack is the public ingestion endpoint. The api key may come in the body or the X-Api-Key header.
func (h *httpHandler) handleTrack(c *gin.Context) {
	var request tracking.TrackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, tracking.TrackResponse{Message: "malformed json body"})
		return
	}
	if strings.TrimSpace(request.APIKey) == "" {
		request.APIKey = c.GetHeader("X-Api-Key")
	}

	response, err := h.tracking.Track(c.Request.Context(), request)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, response)
	case errors.Is(err, tracking.ErrUnknownAPIKey):
		c.JSON(http.StatusUnauthorized, response)
	case errors.Is(err, tracking.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, response)
	default:
		h.logger.Error("track request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response)
	}
}

func (h *httpHandler) handleCurvePreview(c *gin.Context) {
	params := curve.DefaultParams()
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "malformed curve payload")
		return
	}
	thresholds, err := curve.Generate(params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thresholds": thresholds})
}
