package server

import (
	"net/http"

	campaigndomain "github.com/apexhq/apex/internal/campaign/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateCampaign(c *gin.Context) {
	var req campaigndomain.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	campaign, err := s.campaignSvc.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (s *Server) GetCampaign(c *gin.Context) {
	campaign, err := s.campaignSvc.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) ListCampaigns(c *gin.Context) {
	var req campaigndomain.ListCampaignsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.campaignSvc.ListCampaigns(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateCampaign(c *gin.Context) {
	var req campaigndomain.UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	campaign, err := s.campaignSvc.UpdateCampaign(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

type setCampaignStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) SetCampaignStatus(c *gin.Context) {
	var req setCampaignStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	campaign, err := s.campaignSvc.SetCampaignStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) ListCalls(c *gin.Context) {
	var req campaigndomain.ListCallsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.campaignSvc.ListCalls(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
