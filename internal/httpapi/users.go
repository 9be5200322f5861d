package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutormarket/internal/model"
)

func (h *Handler) listTutors(c *gin.Context) {
	list, err := h.engine.ListTutors(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getTutor(c *gin.Context) {
	p, err := h.engine.GetTutor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getUser(c *gin.Context) {
	u, err := h.engine.GetUser(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) userRole(c *gin.Context) {
	role, err := h.engine.UserRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role})
}

func (h *Handler) listUsers(c *gin.Context) {
	list, err := h.engine.ListUsers(c.Request.Context(), caller(c), model.Role(c.Query("role")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type roleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

// setUserRole serves both PATCH /admin/users/:id and PUT /users/role/:id.
func (h *Handler) setUserRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.setUserRole", err))
		return
	}
	u, err := h.engine.SetUserRole(c.Request.Context(), caller(c), c.Param("id"), req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
