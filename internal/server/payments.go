package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	paymentdomain "github.com/classsphere/classsphere/internal/payment/domain"
)

type initializePaymentRequest struct {
	ParentID      snowflake.ID             `json:"parent_id"`
	StudentID     *snowflake.ID            `json:"student_id"`
	Amount        int64                    `json:"amount"`
	Currency      string                   `json:"currency"`
	PaymentType   paymentdomain.Type       `json:"payment_type"`
	PaymentMethod paymentdomain.Method     `json:"payment_method"`
	Items         []paymentdomain.LineItem `json:"items"`
	Email         string                   `json:"email"`
}

type refundPaymentRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) initializePayment(c *gin.Context) {
	var req initializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentSvc.Initialize(c.Request.Context(), paymentdomain.InitializeRequest{
		ParentID:      req.ParentID,
		StudentID:     req.StudentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentType:   req.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
		Email:         req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) verifyPayment(c *gin.Context) {
	payment, err := s.paymentSvc.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) getPayment(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) refundPayment(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.Refund(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) cancelPayment(c *gin.Context) {
	id, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) listPayments(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payments, err := s.paymentSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) listParentPayments(c *gin.Context) {
	parentID, err := parseSnowflake(c.Param("parentID"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	filter, err := parseListFilter(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payments, err := s.paymentSvc.ListByParent(c.Request.Context(), parentID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (s *Server) paymentStatistics(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	stats, err := s.paymentSvc.Statistics(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(raw)
}

func parseListFilter(c *gin.Context) (paymentdomain.ListFilter, error) {
	filter := paymentdomain.ListFilter{
		Status:      paymentdomain.Status(c.Query("status")),
		PaymentType: paymentdomain.Type(c.Query("type")),
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	return filter, nil
}
