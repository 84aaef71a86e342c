package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/workflowhub/kbservice/pkg/models"
	"github.com/workflowhub/kbservice/pkg/ratelimit"
	"github.com/workflowhub/kbservice/pkg/search"
	"github.com/workflowhub/kbservice/pkg/snapshot"
	"github.com/workflowhub/kbservice/pkg/tracing"
	"github.com/workflowhub/kbservice/pkg/validate"
)

// DefaultTimeout bounds total per-request processing time.
const DefaultTimeout = 60 * time.Second

type Dispatcher struct {
	snapshots *snapshot.Manager
	limiter   ratelimit.Store
	engine    *search.Engine
	validator *validate.Validator
	params    *validator.Validate
	tracer    trace.Tracer
	logger    *slog.Logger
	timeout   time.Duration
}

func NewDispatcher(
	snapshots *snapshot.Manager,
	limiter ratelimit.Store,
	engine *search.Engine,
	workflowValidator *validate.Validator,
	tracer trace.Tracer,
	logger *slog.Logger,
	timeout time.Duration,
) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Dispatcher{
		snapshots: snapshots,
		limiter:   limiter,
		engine:    engine,
		validator: workflowValidator,
		params:    validator.New(validator.WithRequiredStructEnabled()),
		tracer:    tracer,
		logger:    logger.With("module", "dispatcher"),
		timeout:   timeout,
	}
}

// Dispatch runs one tool call: envelope validation, rate-limit admission,
// routing against the current snapshot, response shaping. The concurrency
// slot taken at admission is released on every exit path, including panics
// and timeouts.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, req Request) (resp Response) {
	// Unknown tools never consume a rate-limit slot.
	kind, err := ParseKind(req.Tool)
	if err != nil {
		return errorResponse(ErrKindUnknownTool, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	decision, err := d.limiter.Admit(ctx, clientID)
	if err != nil {
		d.logger.Error("Rate-limit store failed", "client", clientID, "error", err)

		return errorResponse(ErrKindInternalError, "rate limiter unavailable")
	}

	if !decision.Allowed {
		return rateLimitedResponse(decision.Reason, decision.RetryAfter)
	}

	requestID := uuid.NewString()

	defer func() {
		if releaseErr := d.limiter.Release(context.WithoutCancel(ctx), clientID); releaseErr != nil {
			d.logger.Error("Failed to release rate-limit slot",
				"client", clientID, "request_id", requestID, "error", releaseErr)
		}

		if r := recover(); r != nil {
			d.logger.Error("Panic in tool handler",
				"tool", kind, "client", clientID, "request_id", requestID, "panic", r)
			resp = errorResponse(ErrKindInternalError, "internal error")
		}
	}()

	if d.tracer != nil {
		var span trace.Span

		ctx, span = d.tracer.Start(ctx, "tools.dispatch",
			trace.WithAttributes(
				attribute.String("tool.name", string(kind)),
				attribute.String("request.id", requestID),
			))

		defer func() {
			if resp.Err != nil {
				tracing.SetError(span, resp.Err)
			}

			span.End()
		}()
	}

	snap := d.snapshots.Current()
	if snap == nil {
		return errorResponse(ErrKindInternalError, "no snapshot available")
	}

	resp = d.route(kind, snap, req.Parameters)

	if ctx.Err() != nil {
		// No partial results on timeout: the whole request fails atomically.
		return errorResponse(ErrKindTimeout, "request processing exceeded the time limit")
	}

	return resp
}

func (d *Dispatcher) route(kind Kind, snap *models.Snapshot, parameters map[string]any) Response {
	switch kind {
	case KindSearchWorkflows:
		return d.searchWorkflows(snap, parameters)
	case KindGetWorkflow:
		return d.getWorkflow(snap, parameters)
	case KindValidateWorkflow:
		return d.validateWorkflow(snap, parameters)
	case KindListCategories:
		return Response{Result: CategoriesResult{Categories: snap.Categories()}}
	case KindGetAntiPatterns:
		return d.getAntiPatterns(snap, parameters)
	default:
		// ParseKind already rejected anything else.
		return errorResponse(ErrKindUnknownTool, "unknown tool")
	}
}

func (d *Dispatcher) searchWorkflows(snap *models.Snapshot, parameters map[string]any) Response {
	var params SearchParams
	if resp, ok := d.bindParams(parameters, &params); !ok {
		return resp
	}

	results := d.engine.Search(snap, params.Query, search.Options{
		Category: models.Category(params.Category),
		Limit:    params.Limit,
	})

	matches := make([]SearchMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, SearchMatch{
			ID:          result.Document.ID,
			Title:       result.Document.Title,
			Description: result.Document.Description,
			Category:    result.Document.Category,
			Score:       result.Score,
		})
	}

	return Response{Result: SearchResult{Matches: matches, Total: len(matches)}}
}

func (d *Dispatcher) getWorkflow(snap *models.Snapshot, parameters map[string]any) Response {
	var params GetWorkflowParams
	if resp, ok := d.bindParams(parameters, &params); !ok {
		return resp
	}

	doc, found := snap.DocumentByID(params.ID)
	if !found {
		return errorResponse(ErrKindNotFound, "no document with id "+params.ID)
	}

	return Response{Result: doc}
}

func (d *Dispatcher) validateWorkflow(snap *models.Snapshot, parameters map[string]any) Response {
	var params ValidateWorkflowParams
	if resp, ok := d.bindParams(parameters, &params); !ok {
		return resp
	}

	return Response{Result: d.validator.Validate(snap, params.Workflow)}
}

func (d *Dispatcher) getAntiPatterns(snap *models.Snapshot, parameters map[string]any) Response {
	var params GetAntiPatternsParams
	if resp, ok := d.bindParams(parameters, &params); !ok {
		return resp
	}

	rules := make([]models.AntiPatternRule, 0, len(snap.Rules))

	for _, rule := range snap.Rules {
		if params.Severity != "" && rule.Severity != models.Severity(params.Severity) {
			continue
		}

		rules = append(rules, rule)
	}

	return Response{Result: RulesResult{Rules: rules}}
}

// bindParams decodes and validates a tool's parameter struct. On failure it
// returns the MalformedRequest response to send.
func (d *Dispatcher) bindParams(parameters map[string]any, into any) (Response, bool) {
	if err := decodeParams(parameters, into); err != nil {
		return errorResponse(ErrKindMalformedRequest, "invalid parameters: "+err.Error()), false
	}

	if err := d.params.Struct(into); err != nil {
		return errorResponse(ErrKindMalformedRequest, "invalid parameters: "+err.Error()), false
	}

	return Response{}, true
}
