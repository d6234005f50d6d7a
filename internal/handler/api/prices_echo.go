package api

import (
	"context"
	"errors"
	"time"

	models "FxPull/internal/domain/models"
	domrepo "FxPull/internal/domain/repository"
	"FxPull/internal/usecase"
	xhttp "FxPull/pkg/http"
	xlogger "FxPull/pkg/logger"
	xutil "FxPull/pkg/util"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

func init() {
	err := xhttp.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
		return domrepo.IsValidTimeframe(domrepo.Timeframe(fl.Field().String()))
	})
	if err != nil {
		panic(err)
	}
}

// PriceService is the slice of the candles use case the API needs.
type PriceService interface {
	Pairs(ctx context.Context) ([]usecase.PairInfo, error)
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
	Gaps(ctx context.Context, pair string, tf domrepo.Timeframe) (*usecase.GapsResult, error)
	Coverage(ctx context.Context, pair string, tf domrepo.Timeframe) (*models.Coverage, error)
	Update(ctx context.Context, pair string, opts models.UpdateOptions) error
	Backfill(ctx context.Context, pair string, start, end time.Time) (*usecase.BackfillResult, error)
	Health(ctx context.Context) error
}

// PricesEchoHandler serves stored candles and triggers updates.
type PricesEchoHandler struct {
	logger *xlogger.Logger
	svc    PriceService
}

func NewPricesEchoHandler(logger *xlogger.Logger, svc PriceService) *PricesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PricesEchoHandler{logger: logger.With(xlogger.String("component", "prices_api")), svc: svc}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/pairs", h.Pairs)
	g.GET("/candles", h.Candles)
	g.GET("/gaps", h.Gaps)
	g.GET("/coverage", h.Coverage)
	g.POST("/update", h.Update)
	g.POST("/backfill", h.Backfill)
}

func (h *PricesEchoHandler) Health(c echo.Context) error {
	if err := h.svc.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("database unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *PricesEchoHandler) Pairs(c echo.Context) error {
	pairs, err := h.svc.Pairs(c.Request().Context())
	if err != nil {
		h.logger.Error("pairs usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, pairs, int64(len(pairs)))
}

func (h *PricesEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	params := usecase.GetCandlesParams{
		Pair:      req.Pair,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Limit:     req.Limit,
	}
	if req.Start != "" {
		start, _ := xutil.ParseDate(req.Start)
		params.Start = &start
	}
	if req.End != "" {
		end, _ := xutil.ParseDate(req.End)
		end = xutil.EndOfDay(end)
		params.End = &end
	}

	res, err := h.svc.GetCandles(c.Request().Context(), params)
	if err != nil {
		h.logger.Debug("candles usecase error", xlogger.String("pair", req.Pair), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *PricesEchoHandler) Gaps(c echo.Context) error {
	req := &models.GapsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Gaps(c.Request().Context(), req.Pair, domrepo.NormalizeTimeframe(req.TF))
	if err != nil {
		h.logger.Debug("gaps usecase error", xlogger.String("pair", req.Pair), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PricesEchoHandler) Coverage(c echo.Context) error {
	req := &models.CoverageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Coverage(c.Request().Context(), req.Pair, domrepo.NormalizeTimeframe(req.TF))
	if err != nil {
		h.logger.Debug("coverage usecase error", xlogger.String("pair", req.Pair), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PricesEchoHandler) Update(c echo.Context) error {
	req := &models.UpdateHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	opts := models.UpdateOptions{
		Latest:   req.Latest,
		FillGaps: req.FillGaps,
		Resample: req.Resample,
		Count:    req.Count,
	}
	if err := h.svc.Update(c.Request().Context(), req.Pair, opts); err != nil {
		h.logger.Error("update usecase error", xlogger.String("pair", req.Pair), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"pair": req.Pair, "status": "updated"})
}

func (h *PricesEchoHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, _ := xutil.ParseDate(req.Start)
	end, _ := xutil.ParseDate(req.End)
	end = xutil.EndOfDay(end)

	res, err := h.svc.Backfill(c.Request().Context(), req.Pair, start, end)
	if err != nil {
		h.logger.Error("backfill usecase error", xlogger.String("pair", req.Pair), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if res.Queued {
		return xhttp.AcceptedResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) error {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, domrepo.ErrPairNotConfigured):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrNoData):
		return xhttp.NotFoundError("no data for the requested range").WithError(err)
	case errors.Is(err, domrepo.ErrInvalidTimeframe),
		errors.Is(err, domrepo.ErrInvalidRange),
		errors.Is(err, domrepo.ErrGapFillTimeframe),
		errors.Is(err, domrepo.ErrInvalidPairName):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrPairLocked):
		return xhttp.ConflictError(err.Error()).WithError(err)
	}
	return err
}
