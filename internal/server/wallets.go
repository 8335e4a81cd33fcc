package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getParentWallet(c *gin.Context) {
	parentID, err := parseSnowflake(c.Param("parentID"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	wallet, transactions, err := s.walletSvc.Get(c.Request.Context(), parentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":       wallet,
		"transactions": transactions,
	})
}

func (s *Server) listCurrencies(c *gin.Context) {
	currencies, err := s.currencySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}
