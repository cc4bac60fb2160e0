package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListProjects(c *gin.Context) {
	list, err := h.projects.ListForOwner(c.Request.Context(), c.GetString(operatorIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]projectPayload, 0, len(list))
	for _, project := range list {
		response = append(response, newProjectPayload(project))
	}
	c.JSON(http.StatusOK, gin.H{"projects": response})
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	var request createProjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "malformed project payload")
		return
	}
	project, err := h.projects.Create(c.Request.Context(), c.GetString(operatorIDContextKey), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newProjectPayload(project))
}

func (h *httpHandler) handleRotateAPIKey(c *gin.Context) {
	project, err := h.projects.RotateAPIKey(c.Request.Context(), c.GetString(operatorIDContextKey), currentProject(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProjectPayload(project))
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	filter, ok := parseUserFilter(c)
	if !ok {
		return
	}
	page, err := h.endUsers.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	users := make([]endUserPayload, 0, len(page.Users))
	for _, user := range page.Users {
		users = append(users, newEndUserPayload(user))
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": page.Total})
}

var exportContentTypes = map[endusers.Format]string{
	endusers.FormatCSV:      "text/csv; charset=utf-8",
	endusers.FormatMarkdown: "text/markdown; charset=utf-8",
	endusers.FormatHTML:     "text/html; charset=utf-8",
}

var exportExtensions = map[endusers.Format]string{
	endusers.FormatCSV:      "csv",
	endusers.FormatMarkdown: "md",
	endusers.FormatHTML:     "html",
}

func (h *httpHandler) handleExportUsers(c *gin.Context) {
	format, ok := endusers.ParseFormat(c.Query("format"))
	if !ok {
		badRequest(c, "format must be csv, markdown or html")
		return
	}
	filter, ok := parseUserFilter(c)
	if !ok {
		return
	}
	rendered, err := h.endUsers.Export(c.Request.Context(), filter, format)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=users."+exportExtensions[format])
	c.Data(http.StatusOK, exportContentTypes[format], []byte(rendered))
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	detail, err := h.endUsers.Get(c.Request.Context(), currentProject(c).ID, c.Param("endUserID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEndUserDetailPayload(detail))
}

// handleProjectEvents streams progress of the project's end users as server-sent events.
func (h *httpHandler) handleProjectEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, currentProject(c).ID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(realtimeHeartbeatEvery)
	defer heartbeat.Stop()

	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

func parseUserFilter(c *gin.Context) (endusers.Filter, bool) {
	status, ok := endusers.ParseProgressStatus(c.Query("status"))
	if !ok {
		badRequest(c, "status must be not_started, in_progress or completed")
		return endusers.Filter{}, false
	}
	filter := endusers.Filter{
		ProjectID:     currentProject(c).ID,
		Search:        c.Query("search"),
		CircuitID:     c.Query("circuitId"),
		Status:        status,
		MetadataKey:   c.Query("metadataKey"),
		MetadataValue: c.Query("metadataValue"),
	}
	for name, target := range map[string]*int{"minStreak": &filter.MinStreak, "limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			badRequest(c, name+" must be a non-negative integer")
			return endusers.Filter{}, false
		}
		*target = value
	}
	return filter, true
}
