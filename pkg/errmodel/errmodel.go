package errmodel

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/store"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryStorage    = "storage"
	CategoryRecovery   = "recovery"
	CategoryPolicy     = "policy"
	CategorySystem     = "system"
)

// Error is the compact error payload returned by APIs and used internally.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
// Persistence faults and sentinels map onto their categories; anything else is system/internal.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	category, code := classify(err)
	out := &Error{Category: category, Code: code, Message: truncate(err.Error(), 512)}
	var f *persistence.Fault
	if errors.As(err, &f) {
		out.Context = map[string]any{"persistence_id": f.PersistenceID, "fault": f.Kind.String()}
		if f.SequenceNr > 0 {
			out.Context["seq"] = f.SequenceNr
		}
	}
	var conflict *persistence.SequenceConflictError
	if errors.As(err, &conflict) {
		if out.Context == nil {
			out.Context = map[string]any{}
		}
		out.Context["expected_seq"] = conflict.Expected
		out.Context["actual_seq"] = conflict.Actual
	}
	return out
}

func classify(err error) (category, code string) {
	switch {
	case errors.Is(err, persistence.ErrPersistenceIDRequired):
		return CategoryValidation, "persistence_id_required"
	case errors.Is(err, store.ErrUnknownManifest):
		return CategoryValidation, "unknown_manifest"
	case errors.Is(err, persistence.ErrSequenceConflict):
		return CategoryStorage, "conflict"
	case errors.Is(err, persistence.ErrWriteAborted):
		return CategoryStorage, "write_aborted"
	case errors.Is(err, persistence.ErrNoSnapshotStore):
		return CategoryStorage, "no_snapshot_store"
	case persistence.IsFault(err, persistence.WriteFault):
		return CategoryStorage, "write_failed"
	case errors.Is(err, persistence.ErrReplayOrder), errors.Is(err, persistence.ErrSequenceRegression):
		return CategoryRecovery, "replay_order"
	case errors.Is(err, persistence.ErrNoRecoveryDecision):
		return CategoryRecovery, "no_decision"
	case persistence.IsFault(err, persistence.PlanningFault):
		return CategoryRecovery, "planning_failed"
	case persistence.IsFault(err, persistence.ReplayFault):
		return CategoryRecovery, "replay_failed"
	case errors.Is(err, persistence.ErrUnhandled):
		return CategoryPolicy, "unhandled"
	case errors.Is(err, persistence.ErrNotLive):
		return CategoryPolicy, "not_live"
	case errors.Is(err, persistence.ErrStopped), errors.Is(err, persistence.ErrForceStopped):
		return CategoryPolicy, "stopped"
	case errors.Is(err, context.DeadlineExceeded):
		return CategorySystem, "timeout"
	}
	return CategorySystem, "internal"
}

// Convenience constructors.
func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Storage(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryStorage, code, message, ctx, cause)
	}
	return New(CategoryStorage, code, message, ctx)
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		// Special-case common codes
		switch e.Code {
		case "not_found":
			return http.StatusNotFound
		case "conflict":
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case CategoryPolicy:
		switch e.Code {
		case "unauthorized":
			return http.StatusUnauthorized
		case "forbidden":
			return http.StatusForbidden
		case "method_not_allowed":
			return http.StatusMethodNotAllowed
		case "stopped", "not_live":
			return http.StatusServiceUnavailable
		case "unhandled":
			return http.StatusUnprocessableEntity
		default:
			return http.StatusForbidden
		}
	case CategoryStorage:
		if e.Code == "conflict" {
			return http.StatusConflict
		}
		return http.StatusServiceUnavailable
	case CategoryRecovery:
		return http.StatusServiceUnavailable
	case CategorySystem:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a compact error envelope to the response writer.
// It attempts to include the trace_id if present in ctx.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	status := HTTPStatus(ce)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	traceID := ""
	if r != nil {
		if span := trace.SpanFromContext(r.Context()); span != nil {
			sc := span.SpanContext()
			if sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
	}
	// Envelope { error: Error, trace_id?: string }
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			// Try to stringify primitive slices to keep payload compact.
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				// Avoid giant blobs; keep a preview
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}
