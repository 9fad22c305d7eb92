package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
	"stock-price-alerts/internal/storage"
)

type quoteResponse struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	DayLow      decimal.Decimal `json:"day_low"`
	DayHigh     decimal.Decimal `json:"day_high"`
	Volume      int64           `json:"volume"`
	Timestamp   int64           `json:"timestamp"`
	Stale       bool            `json:"stale"`
	StaleReason string          `json:"stale_reason,omitempty"`
	Source      string          `json:"source"`
}

func (s *Server) getQuote(c *gin.Context) {
	resolve := s.opts.Quotes.Get
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		resolve = s.opts.Quotes.Refresh
	}

	res, err := resolve(c.Request.Context(), c.Param("symbol"))
	switch {
	case errors.Is(err, quote.ErrNoPriceAvailable):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, quote.ErrUnavailableOutsideHours):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, quoteResponse{
		Symbol:      res.Quote.Symbol,
		Price:       res.Quote.Price,
		DayLow:      res.Quote.DayLow,
		DayHigh:     res.Quote.DayHigh,
		Volume:      res.Quote.Volume,
		Timestamp:   res.Quote.Timestamp,
		Stale:       res.Stale,
		StaleReason: string(res.StaleReason),
		Source:      string(res.Source),
	})
}

type alertRequest struct {
	Symbol    *string          `json:"symbol"`
	Direction *string          `json:"direction"`
	Threshold *decimal.Decimal `json:"threshold"`
	Status    *string          `json:"status"`
	Channel   *string          `json:"channel"`
	Target    *string          `json:"target"`
}

func (r alertRequest) apply(a engine.Alert) engine.Alert {
	if r.Symbol != nil {
		a.Symbol = *r.Symbol
	}
	if r.Direction != nil {
		a.Direction = engine.Direction(strings.ToLower(*r.Direction))
	}
	if r.Threshold != nil {
		a.Threshold = *r.Threshold
	}
	if r.Status != nil {
		a.Status = engine.Status(strings.ToLower(*r.Status))
	}
	if r.Channel != nil {
		a.Channel = *r.Channel
	}
	if r.Target != nil {
		a.Target = *r.Target
	}
	return a
}

func (s *Server) listAlerts(c *gin.Context) {
	var (
		alerts []engine.Alert
		err    error
	)
	if symbol := c.Query("symbol"); symbol != "" {
		alerts, err = s.opts.Alerts.ListBySymbol(c.Request.Context(), symbol)
	} else {
		alerts, err = s.opts.Alerts.ListAlerts(c.Request.Context())
	}
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (s *Server) createAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.opts.Alerts.CreateAlert(c.Request.Context(), req.apply(engine.Alert{Status: engine.StatusActive}))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getAlert(c *gin.Context) {
	alert, err := s.opts.Alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) updateAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	existing, err := s.opts.Alerts.GetAlert(ctx, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	updated, err := s.opts.Alerts.UpdateAlert(ctx, req.apply(existing))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteAlert(c *gin.Context) {
	id := c.Param("id")
	if err := s.opts.Alerts.DeleteAlert(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	if s.opts.States != nil {
		s.opts.States.Forget(id)
	}
	c.Status(http.StatusNoContent)
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, engine.ErrInvalidAlert):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
