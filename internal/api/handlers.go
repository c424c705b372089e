package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aidenlippert/acd-dispatch/internal/model"
	"github.com/aidenlippert/acd-dispatch/internal/ops"
)

// bindStateField validates a nullable state field bound as *int: validator's
// "required" tag only checks for a non-nil pointer, so a literal 0 value
// (CLOSED/UNAVAILABLE) binds successfully instead of being rejected as the Go
// zero value would be with a plain int field. The returned bool reports
// whether state was present and within the valid 0/1 range.
func bindStateField(state *int) (int, bool) {
	if state == nil {
		return 0, false
	}
	v := *state
	return v, v == 0 || v == 1
}

// statusFor maps an operation Result to an HTTP status: ERR becomes 400,
// LOCKED becomes 409. The OK status is supplied by each handler since it
// varies by route.
func statusFor(res ops.Result, okStatus int) int {
	switch res.Status {
	case ops.StatusOK:
		return okStatus
	case ops.StatusLocked:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respond(c *gin.Context, res ops.Result, okStatus int, envelopeKey string) {
	status := statusFor(res, okStatus)
	if res.Status != ops.StatusOK {
		c.JSON(status, gin.H{"detail": res.Value})
		return
	}
	c.JSON(status, gin.H{envelopeKey: res.Value})
}

// setACDState handles POST /acd.
func (h *Handlers) setACDState(c *gin.Context) {
	var body struct {
		State *int `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	v, valid := bindStateField(body.State)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "state must be 0 or 1"})
		return
	}
	res := h.ops.SetACDState(c.Request.Context(), model.ACDState(v))
	respond(c, res, http.StatusCreated, "acd_state")
}

// createContact handles POST /contact.
func (h *Handlers) createContact(c *gin.Context) {
	var body struct {
		Skills []string `json:"skills" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	res := h.ops.CreateContact(c.Request.Context(), body.Skills)
	respond(c, res, http.StatusCreated, "contact_key")
}

// completeContact handles PATCH /contact/{key}.
func (h *Handlers) completeContact(c *gin.Context) {
	res := h.ops.CompleteContact(c.Request.Context(), c.Param("key"))
	respond(c, res, http.StatusOK, "contact_key")
}

// getContact handles GET /contact/{key}.
func (h *Handlers) getContact(c *gin.Context) {
	contact, res := h.ops.GetContact(c.Request.Context(), c.Param("key"))
	if res.Status != ops.StatusOK {
		c.JSON(http.StatusBadRequest, gin.H{"detail": res.Value})
		return
	}
	c.JSON(http.StatusOK, contact)
}

// createAgent handles POST /agent/{key}.
func (h *Handlers) createAgent(c *gin.Context) {
	var body struct {
		FName  string   `json:"fname" binding:"required"`
		LName  string   `json:"lname" binding:"required"`
		Skills []string `json:"skills"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	res := h.ops.CreateAgent(c.Request.Context(), c.Param("key"), body.FName, body.LName, body.Skills)
	respond(c, res, http.StatusCreated, "agent_key")
}

// deleteAgent handles DELETE /agent/{key}.
func (h *Handlers) deleteAgent(c *gin.Context) {
	res := h.ops.DeleteAgent(c.Request.Context(), c.Param("key"))
	respond(c, res, http.StatusOK, "agent_key")
}

// setAgentState handles PATCH /agent/{key}/state.
func (h *Handlers) setAgentState(c *gin.Context) {
	var body struct {
		State *int `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	v, valid := bindStateField(body.State)
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "state must be 0 or 1"})
		return
	}
	res := h.ops.SetAgentState(c.Request.Context(), c.Param("key"), model.AgentState(v))
	respond(c, res, http.StatusOK, "agent_key")
}

// changeAgentInfo handles PATCH /agent/{key}.
func (h *Handlers) changeAgentInfo(c *gin.Context) {
	var body struct {
		FName string `json:"fname" binding:"required"`
		LName string `json:"lname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	res := h.ops.ChangeAgentInfo(c.Request.Context(), c.Param("key"), body.FName, body.LName)
	respond(c, res, http.StatusOK, "agent_key")
}

// addAgentSkill handles PATCH /agent/{key}/skill.
func (h *Handlers) addAgentSkill(c *gin.Context) {
	var body struct {
		Skill string `json:"skill" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	res := h.ops.AddAgentSkill(c.Request.Context(), c.Param("key"), body.Skill)
	respond(c, res, http.StatusOK, "agent_key")
}

// deleteAgentSkill handles DELETE /agent/{key}/skill/{skill}.
func (h *Handlers) deleteAgentSkill(c *gin.Context) {
	res := h.ops.DeleteAgentSkill(c.Request.Context(), c.Param("key"), c.Param("skill"))
	respond(c, res, http.StatusOK, "skill")
}

// deleteSkill handles DELETE /skill/{skill}.
func (h *Handlers) deleteSkill(c *gin.Context) {
	res := h.ops.DeleteSkill(c.Request.Context(), c.Param("skill"))
	respond(c, res, http.StatusOK, "skill")
}
