package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"streamfilter/internal/config"
	"streamfilter/internal/filtering"
	"streamfilter/internal/logger"
	"streamfilter/pkg/codec"
	"streamfilter/pkg/errors"
	"streamfilter/pkg/filter"
)

// dryRunName labels pipeline metrics produced by the apply endpoint.
const dryRunName = "api-dry-run"

type Handler struct {
	registry *filtering.Registry
	dryRun   *filtering.Pipeline
	logger   logger.Logger
}

func NewHandler(registry *filtering.Registry, log logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		dryRun:   filtering.NewPipeline(dryRunName, registry.Engine(), registry.Codec(), log),
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		subs := v1.Group("/subscriptions")
		{
			subs.GET("", h.ListSubscriptions)
			subs.GET("/:name", h.GetSubscription)
		}

		filters := v1.Group("/filters")
		{
			filters.POST("/compile", h.CompileFilter)
			filters.POST("/apply", h.ApplyFilter)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

type SubscriptionResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Source      config.SourceConfig  `json:"source"`
	Sink        config.SinkConfig    `json:"sink"`
	Engine      string               `json:"engine"`
	PassThrough bool                 `json:"pass_through"`
	Expression  string               `json:"expression,omitempty"`
	Filter      filter.Specification `json:"filter"`
	CreatedAt   time.Time            `json:"created_at"`
}

func (h *Handler) toResponse(sub *filtering.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:          sub.ID.String(),
		Name:        sub.Name,
		Source:      sub.Source,
		Sink:        sub.Sink,
		Engine:      h.registry.Engine().Name(),
		PassThrough: sub.Filter.Program().IsPassThrough(),
		Expression:  sub.Expression(),
		Filter:      sub.Spec,
		CreatedAt:   sub.CreatedAt,
	}
}

// ListSubscriptions godoc
// @Summary      List subscriptions
// @Tags         subscriptions
// @Produce      json
// @Success      200  {array}   SubscriptionResponse
// @Router       /subscriptions [get]
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs := h.registry.List()
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, h.toResponse(sub))
	}
	c.JSON(http.StatusOK, out)
}

// GetSubscription godoc
// @Summary      Get a subscription by name
// @Tags         subscriptions
// @Produce      json
// @Param        name  path      string  true  "Subscription name"
// @Success      200   {object}  SubscriptionResponse
// @Failure      404   {object}  map[string]interface{}
// @Router       /subscriptions/{name} [get]
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.registry.Get(c.Param("name"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(sub))
}

type CompileResponse struct {
	Engine      string `json:"engine"`
	PassThrough bool   `json:"pass_through"`
	Expression  string `json:"expression,omitempty"`
}

// CompileFilter godoc
// @Summary      Validate a filter specification
// @Description  Compiles the filter with the configured engine. Invalid clauses are listed in details.clauses.
// @Tags         filters
// @Accept       json
// @Produce      json
// @Param        filter  body      filter.Specification  true  "Filter specification"
// @Success      200     {object}  CompileResponse
// @Failure      400     {object}  map[string]interface{}
// @Router       /filters/compile [post]
func (h *Handler) CompileFilter(c *gin.Context) {
	var spec filter.Specification
	if err := c.ShouldBindJSON(&spec); err != nil {
		h.handleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	compiled, err := h.registry.Compile(spec)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, CompileResponse{
		Engine:      h.registry.Engine().Name(),
		PassThrough: compiled.Program().IsPassThrough(),
		Expression:  filtering.Describe(compiled),
	})
}

// ApplyRequest carries a filter and one wire message. Message may be the
// envelope object itself or a JSON string holding the raw envelope text.
type ApplyRequest struct {
	Filter  filter.Specification `json:"filter"`
	Message json.RawMessage      `json:"message" binding:"required"`
}

type ApplyResponse struct {
	Message   string `json:"message"`
	Outcome   string `json:"outcome"`
	Delivered bool   `json:"delivered_original"`
	Error     string `json:"error,omitempty"`
}

// ApplyFilter godoc
// @Summary      Dry-run a filter against one message
// @Tags         filters
// @Accept       json
// @Produce      json
// @Param        request  body      ApplyRequest  true  "Filter and message"
// @Success      200      {object}  ApplyResponse
// @Failure      400      {object}  map[string]interface{}  "INVALID_FILTER or DECODE_ERROR"
// @Router       /filters/apply [post]
func (h *Handler) ApplyFilter(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	compiled, err := h.registry.Compile(req.Filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	raw := string(req.Message)
	var text string
	if err := json.Unmarshal(req.Message, &text); err == nil {
		raw = text
	}

	// A message without an envelope never reaches a subscriber, so there is
	// nothing to dry-run. A repeated payload field is left to the pipeline.
	if _, err := codec.ParseEnvelope([]byte(raw)); err != nil {
		if decodeErr, ok := err.(*codec.DecodeError); ok {
			h.handleError(c, errors.ErrDecode.WithCause(decodeErr))
			return
		}
	}

	res := h.dryRun.DecideContext(c.Request.Context(), raw, compiled)
	resp := ApplyResponse{
		Message:   res.Output,
		Outcome:   string(res.Outcome),
		Delivered: res.Outcome.Delivered(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
