package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
)

func (s *Server) IngestUsage(c *gin.Context) {
	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.MeterCode = strings.TrimSpace(req.MeterCode)

	record, err := s.usageSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetUsageRecordByID(c *gin.Context) {
	id, ok := s.usageRecordID(c)
	if !ok {
		return
	}

	record, err := s.usageSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) BillUsageRecord(c *gin.Context) {
	s.transitionUsageRecord(c, s.usageSvc.Bill)
}

func (s *Server) DisputeUsageRecord(c *gin.Context) {
	s.transitionUsageRecord(c, s.usageSvc.Dispute)
}

func (s *Server) WaiveUsageRecord(c *gin.Context) {
	s.transitionUsageRecord(c, s.usageSvc.Waive)
}

func (s *Server) AdjustUsageCost(c *gin.Context) {
	id, ok := s.usageRecordID(c)
	if !ok {
		return
	}

	var req usagedomain.AdjustCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.RecordID = id

	record, err := s.usageSvc.AdjustCost(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ReviewUsageRecord(c *gin.Context) {
	id, ok := s.usageRecordID(c)
	if !ok {
		return
	}

	var req usagedomain.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.RecordID = id

	record, err := s.usageSvc.Review(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) AggregateUsage(c *gin.Context) {
	var req usagedomain.AggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.MeterCode = strings.TrimSpace(req.MeterCode)

	record, err := s.usageSvc.Aggregate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	var query struct {
		MeterCode   string `form:"meter_code"`
		PeriodStart string `form:"period_start"`
		PeriodEnd   string `form:"period_end"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	periodStart, err := requireTime(query.PeriodStart, false)
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}

	periodEnd, err := requireTime(query.PeriodEnd, true)
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "invalid period_end"))
		return
	}

	resp, err := s.usageSvc.Summary(c.Request.Context(), usagedomain.SummaryRequest{
		MeterCode:   strings.TrimSpace(query.MeterCode),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) transitionUsageRecord(c *gin.Context, fn func(ctx context.Context, id string) (usagedomain.UsageRecord, error)) {
	id, ok := s.usageRecordID(c)
	if !ok {
		return
	}

	record, err := fn(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) usageRecordID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return "", false
	}
	return id, true
}
