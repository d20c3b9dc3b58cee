package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/internal/strategy"
	"Backtest/internal/usecase"
	xhttp "Backtest/pkg/http"
	"Backtest/pkg/http/middleware"
	xlogger "Backtest/pkg/logger"
)

// RunsHandler exposes run submission and the performance report over HTTP.
type RunsHandler struct {
	logger     *xlogger.Logger
	backtester *usecase.Backtester
	reports    *usecase.Reports
	registry   *strategy.Registry
	limiter    *middleware.Limiter
}

func NewRunsHandler(logger *xlogger.Logger, backtester *usecase.Backtester, reports *usecase.Reports, registry *strategy.Registry) *RunsHandler {
	return &RunsHandler{logger: logger, backtester: backtester, reports: reports, registry: registry}
}

// WithSubmitLimit throttles run submissions per client.
func (h *RunsHandler) WithSubmitLimit(l *middleware.Limiter) *RunsHandler {
	h.limiter = l
	return h
}

func (h *RunsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/strategies", h.Strategies)
	if h.limiter != nil {
		g.POST("/runs", h.Submit, middleware.RateLimit(h.limiter))
	} else {
		g.POST("/runs", h.Submit)
	}
	g.GET("/runs/:run_id", h.Report)
	g.GET("/runs/:run_id/report", h.Report)
	g.GET("/runs/:run_id/trades", h.Trades)
}

func (h *RunsHandler) Strategies(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.registry.List())
}

func (h *RunsHandler) Submit(c echo.Context) error {
	req := &models.RunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	run, err := h.backtester.Submit(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "submit run", "", err)
	}
	return xhttp.AcceptedResponse(c, run)
}

func (h *RunsHandler) Report(c echo.Context) error {
	req := &models.ReportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	run, err := h.reports.Run(c.Request().Context(), req.RunID, req.Sort, req.Order == "desc")
	if err != nil {
		return h.fail(c, "report", req.RunID, err)
	}
	if run.Status == models.RunFinished || run.Status == models.RunFailed {
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	}
	return xhttp.SuccessResponse(c, run)
}

func (h *RunsHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.reports.Trades(c.Request().Context(), req.RunID, req.Strategy, req.Limit)
	if err != nil {
		return h.fail(c, "trades", req.RunID, err)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *RunsHandler) fail(c echo.Context, op, runID string, err error) error {
	switch {
	case errors.Is(err, errs.ErrRunNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("run not found").WithParam("run_id", runID).WithError(err))
	case errors.Is(err, errs.ErrInvalidRun):
		appErr := xhttp.BadRequestError(err.Error()).WithError(err)
		if runID != "" {
			appErr.WithParam("run_id", runID)
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
