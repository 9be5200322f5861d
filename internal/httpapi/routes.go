package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutormarket/internal/apperr"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/model"
)

func (h *Handler) createTuition(c *gin.Context) {
	var in lifecycle.TuitionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, badBody("httpapi.createTuition", err))
		return
	}
	t, err := h.engine.CreateTuition(c.Request.Context(), caller(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) listApprovedTuitions(c *gin.Context) {
	var q lifecycle.TuitionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.writeError(c, badBody("httpapi.listApprovedTuitions", err))
		return
	}
	list, err := h.engine.ListApprovedTuitions(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getTuition(c *gin.Context) {
	t, err := h.engine.GetTuition(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) updateTuition(c *gin.Context) {
	var in lifecycle.TuitionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, badBody("httpapi.updateTuition", err))
		return
	}
	t, err := h.engine.UpdateTuition(c.Request.Context(), caller(c), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) deleteTuition(c *gin.Context) {
	if err := h.engine.DeleteTuition(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listStudentTuitions(c *gin.Context) {
	list, err := h.engine.ListStudentTuitions(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listAllTuitions(c *gin.Context) {
	list, err := h.engine.ListAllTuitions(c.Request.Context(), caller(c), model.TuitionStatus(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type reviewRequest struct {
	Decision lifecycle.Decision `json:"decision"`
}

func (h *Handler) reviewTuition(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.reviewTuition", err))
		return
	}
	t, err := h.engine.ReviewTuition(c.Request.Context(), caller(c), c.Param("id"), req.Decision)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) listTuitionApplications(c *gin.Context) {
	list, err := h.engine.ListTuitionApplications(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) submitApplication(c *gin.Context) {
	var in lifecycle.ApplicationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, badBody("httpapi.submitApplication", err))
		return
	}
	a, err := h.engine.SubmitApplication(c.Request.Context(), caller(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) updateApplication(c *gin.Context) {
	var in lifecycle.ApplicationUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, badBody("httpapi.updateApplication", err))
		return
	}
	a, err := h.engine.UpdateApplication(c.Request.Context(), caller(c), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) withdrawApplication(c *gin.Context) {
	if err := h.engine.WithdrawApplication(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) rejectApplication(c *gin.Context) {
	a, err := h.engine.RejectApplication(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) approveApplication(c *gin.Context) {
	hire, err := h.engine.ApproveApplication(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hire)
}

func (h *Handler) listTutorApplications(c *gin.Context) {
	list, err := h.engine.ListTutorApplications(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listOngoing(c *gin.Context) {
	list, err := h.engine.ListOngoing(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listStudentApplications(c *gin.Context) {
	list, err := h.engine.ListStudentApplications(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type intentRequest struct {
	ApplicationID string `json:"application_id" binding:"required"`
}

func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.createPaymentIntent", err))
		return
	}
	checkout, err := h.engine.InitiateHire(c.Request.Context(), caller(c), req.ApplicationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"clientSecret": checkout.ClientSecret,
		"payment":      checkout.Payment,
	})
}

type paymentRequest struct {
	ApplicationID  string `json:"application_id" binding:"required"`
	TransactionRef string `json:"transaction_ref"`
	Amount         int64  `json:"amount"`
	Status         string `json:"status" binding:"required,oneof=success failed"`
}

// recordPayment reports the checkout outcome. A success commits the hire.
func (h *Handler) recordPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.recordPayment", err))
		return
	}
	ctx := c.Request.Context()
	if req.Status == string(model.PaymentFailed) {
		if req.TransactionRef == "" {
			h.writeError(c, apperr.Validation("httpapi.recordPayment", apperr.FieldError{Field: "transaction_ref", Error: "is required"}))
			return
		}
		p, err := h.engine.RecordPaymentFailure(ctx, caller(c), req.ApplicationID, req.TransactionRef)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
		return
	}
	hire, err := h.engine.ConfirmPayment(ctx, caller(c), req.ApplicationID, lifecycle.PaymentResult{
		TransactionRef: req.TransactionRef,
		Amount:         req.Amount,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hire)
}

func (h *Handler) listStudentPayments(c *gin.Context) {
	list, err := h.engine.ListStudentPayments(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listAllPayments(c *gin.Context) {
	list, err := h.engine.ListAllPayments(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) scheduleSession(c *gin.Context) {
	var in lifecycle.SessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, badBody("httpapi.scheduleSession", err))
		return
	}
	s, err := h.engine.ScheduleSession(c.Request.Context(), caller(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) listSessions(c *gin.Context) {
	list, err := h.engine.ListSessions(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type sessionStatusRequest struct {
	Status model.SessionStatus `json:"status"`
}

func (h *Handler) updateSession(c *gin.Context) {
	var req sessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.updateSession", err))
		return
	}
	s, err := h.engine.UpdateSessionStatus(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.engine.DeleteSession(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type contactRequest struct {
	TuitionID     string `json:"tuition_id" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required"`
}

func (h *Handler) openConversation(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.openConversation", err))
		return
	}
	conv, err := h.chat.OpenConversation(c.Request.Context(), caller(c), req.ParticipantID, req.TuitionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.chat.ListConversations(c.Request.Context(), caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// listConversationsOf serves the per-user path; callers may only read
// their own conversations.
func (h *Handler) listConversationsOf(c *gin.Context) {
	u := caller(c)
	if c.Param("userId") != u.ID {
		h.writeError(c, apperr.New("httpapi.listConversations", apperr.ErrUnauthorized, "conversations of another user"))
		return
	}
	h.listConversations(c)
}

func (h *Handler) history(c *gin.Context) {
	msgs, err := h.chat.History(c.Request.Context(), caller(c), c.Param("conversationId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.sendMessage", err))
		return
	}
	m, err := h.chat.SendMessage(c.Request.Context(), caller(c), c.Param("conversationId"), req.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) markRead(c *gin.Context) {
	conv, err := h.chat.MarkRead(c.Request.Context(), caller(c), c.Param("conversationId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
