package server

import (
	"io"
	"net/http"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/blueprint"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/gin-gonic/gin"
)

const maxBlueprintBytes = 1 << 20

func (h *httpHandler) handleListCircuits(c *gin.Context) {
	list, err := h.circuits.ListCircuits(c.Request.Context(), currentProject(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]circuitPayload, 0, len(list))
	for _, circuit := range list {
		response = append(response, newCircuitPayload(circuit))
	}
	c.JSON(http.StatusOK, gin.H{"circuits": response})
}

func (h *httpHandler) handleCreateCircuit(c *gin.Context) {
	var request createCircuitRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed circuit payload")
		return
	}
	circuit, err := h.circuits.CreateCircuit(c.Request.Context(), currentProject(c).ID, request.form())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCircuitPayload(circuit))
}

func (h *httpHandler) handleImportCircuit(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBlueprintBytes))
	if err != nil {
		badRequest(c, "unreadable blueprint")
		return
	}
	document, err := blueprint.FromYAML(data)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := blueprint.Import(c.Request.Context(), h.circuits, currentProject(c).ID, *document)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rewards := make([]rewardPayload, 0, len(result.Rewards))
	for _, reward := range result.Rewards {
		rewards = append(rewards, newRewardPayload(reward, result.Circuit))
	}
	c.JSON(http.StatusCreated, gin.H{"circuit": newCircuitPayload(result.Circuit), "rewards": rewards})
}

func (h *httpHandler) handleGetCircuit(c *gin.Context) {
	c.JSON(http.StatusOK, newCircuitPayload(currentCircuit(c)))
}

func (h *httpHandler) handleRenameCircuit(c *gin.Context) {
	var request renameCircuitRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed rename payload")
		return
	}
	circuitID := currentCircuit(c).ID
	if err := h.circuits.RenameCircuit(c.Request.Context(), circuitID, request.Name); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithCircuit(c, circuitID)
}

func (h *httpHandler) handleDeleteCircuit(c *gin.Context) {
	if err := h.circuits.DeleteCircuit(c.Request.Context(), currentCircuit(c).ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleActivateCircuit(c *gin.Context) {
	circuitID := currentCircuit(c).ID
	if err := h.circuits.ActivateCircuit(c.Request.Context(), circuitID); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithCircuit(c, circuitID)
}

func (h *httpHandler) handleAddStep(c *gin.Context) {
	var request stepRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed step payload")
		return
	}
	step, err := h.circuits.AddStep(c.Request.Context(), currentCircuit(c).ID, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newStepPayload(step))
}

func (h *httpHandler) handleSetSteps(c *gin.Context) {
	var request setStepsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed steps payload")
		return
	}
	circuit, err := h.circuits.SetSteps(c.Request.Context(), currentCircuit(c).ID, stepInputs(request.Steps))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCircuitPayload(circuit))
}

func (h *httpHandler) handleUpdateStepsOrder(c *gin.Context) {
	var request stepsOrderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed order payload")
		return
	}
	order := make([]circuits.StepOrder, 0, len(request.Order))
	for _, entry := range request.Order {
		order = append(order, circuits.StepOrder{StepID: entry.StepID, StepNumber: entry.StepNumber})
	}
	circuitID := currentCircuit(c).ID
	if err := h.circuits.UpdateStepsOrder(c.Request.Context(), circuitID, order); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondWithCircuit(c, circuitID)
}

func (h *httpHandler) handleUpdateStep(c *gin.Context) {
	var request stepRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed step payload")
		return
	}
	step, err := h.circuits.UpdateStep(c.Request.Context(), currentCircuit(c).ID, c.Param("stepID"), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStepPayload(step))
}

func (h *httpHandler) handleDeleteStep(c *gin.Context) {
	if err := h.circuits.DeleteStep(c.Request.Context(), currentCircuit(c).ID, c.Param("stepID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListRewards(c *gin.Context) {
	circuit := currentCircuit(c)
	rewards, err := h.circuits.ListRewards(c.Request.Context(), circuit.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]rewardPayload, 0, len(rewards))
	for _, reward := range rewards {
		response = append(response, newRewardPayload(reward, circuit))
	}
	c.JSON(http.StatusOK, gin.H{"rewards": response})
}

func (h *httpHandler) handleAddReward(c *gin.Context) {
	var request rewardRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed reward payload")
		return
	}
	circuit := currentCircuit(c)
	reward, err := h.circuits.AddReward(c.Request.Context(), circuit.ID, request.form())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRewardPayload(reward, circuit))
}

func (h *httpHandler) handleUpdateReward(c *gin.Context) {
	var request rewardRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed reward payload")
		return
	}
	circuit := currentCircuit(c)
	reward, err := h.circuits.UpdateReward(c.Request.Context(), circuit.ID, c.Param("rewardID"), request.form())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRewardPayload(reward, circuit))
}

func (h *httpHandler) handleDeleteReward(c *gin.Context) {
	if err := h.circuits.DeleteReward(c.Request.Context(), currentCircuit(c).ID, c.Param("rewardID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAnalytics(c *gin.Context) {
	report, err := h.analytics.CircuitReport(c.Request.Context(), currentCircuit(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) respondWithCircuit(c *gin.Context, circuitID string) {
	circuit, err := h.circuits.GetCircuit(c.Request.Context(), circuitID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCircuitPayload(circuit))
}
