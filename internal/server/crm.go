package server

import (
	"net/http"

	crmdomain "github.com/apexhq/apex/internal/crm/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateContact(c *gin.Context) {
	var req crmdomain.CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	contact, err := s.crmSvc.CreateContact(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (s *Server) GetContact(c *gin.Context) {
	contact, err := s.crmSvc.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) ListContacts(c *gin.Context) {
	var req crmdomain.ListContactsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.crmSvc.ListContacts(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateContact(c *gin.Context) {
	var req crmdomain.UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	contact, err := s.crmSvc.UpdateContact(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) DeleteContact(c *gin.Context) {
	if err := s.crmSvc.DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreateLead(c *gin.Context) {
	var req crmdomain.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	lead, err := s.crmSvc.CreateLead(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (s *Server) GetLead(c *gin.Context) {
	lead, err := s.crmSvc.GetLead(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) ListLeads(c *gin.Context) {
	var req crmdomain.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.crmSvc.ListLeads(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateLead(c *gin.Context) {
	var req crmdomain.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	lead, err := s.crmSvc.UpdateLead(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) DeleteLead(c *gin.Context) {
	if err := s.crmSvc.DeleteLead(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
