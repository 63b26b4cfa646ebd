package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListDocumentTypes(c *gin.Context) {
	types, err := s.masterRepo.ListDocumentTypes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": types})
}

func (s *Server) ListAddressTypes(c *gin.Context) {
	types, err := s.masterRepo.ListAddressTypes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": types})
}
