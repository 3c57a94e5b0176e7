package api

import (
	"net/http"
	"strings"

	"github.com/chirino/conversation-service/internal/model"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	"github.com/gin-gonic/gin"
)

func (h *Handlers) listConversations(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", registrystore.DefaultPageLimit)
	if err != nil {
		handleError(c, err)
		return
	}
	page, err := h.Repo.ListConversations(c.Request.Context(), filter, registrystore.Page{Offset: offset, Limit: limit})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handlers) getConversation(c *gin.Context) {
	detail, err := h.Repo.GetConversation(c.Request.Context(), c.Param("externalId"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) getStats(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	stats, err := h.Repo.GetDashboardStats(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) listAgents(c *gin.Context) {
	agents, err := h.Repo.ListAgents(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"data": agents})
}

func (h *Handlers) searchSnippets(c *gin.Context) {
	filter, err := queryFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}
	perConversation, err := queryInt(c, "perConversation", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		handleError(c, err)
		return
	}
	var terms []string
	for _, q := range c.QueryArray("q") {
		terms = append(terms, strings.Fields(q)...)
	}
	results, err := h.Repo.SearchSnippets(c.Request.Context(), registrystore.SnippetQuery{
		Filter:          filter,
		Terms:           terms,
		Speaker:         model.SpeakerFilter(strings.ToLower(c.Query("speaker"))),
		PerConversation: perConversation,
		Limit:           limit,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handlers) runSync(c *gin.Context) {
	if h.Sync == nil {
		unavailable(c, "platform sync")
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
			return
		}
	}
	mode, ok := model.ParseSyncMode(req.Mode)
	if !ok {
		handleError(c, &registrystore.ValidationError{Field: "mode", Message: "must be incremental or full"})
		return
	}
	run, err := h.Sync.Run(c.Request.Context(), mode)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handlers) ask(c *gin.Context) {
	if h.Ask == nil {
		unavailable(c, "question answering")
		return
	}
	var req struct {
		Question string `json:"question" binding:"required"`
		Start    string `json:"start"`
		End      string `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": "question"})
		return
	}
	dr, err := registrystore.ParseDateRange(req.Start, req.End)
	if err != nil {
		handleError(c, err)
		return
	}
	answer, err := h.Ask.Ask(c.Request.Context(), req.Question, dr)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *Handlers) clearCache(c *gin.Context) {
	if clearer, ok := h.Repo.(registrystore.CacheClearer); ok {
		clearer.ClearCaches(c.Request.Context())
	}
	c.Status(http.StatusNoContent)
}
