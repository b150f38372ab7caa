package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/server"
	"github.com/kbukum/conduit/step"
	"github.com/kbukum/conduit/stream"
)

const (
	// DefaultLimit is the number of rows previewed when no limit is given.
	DefaultLimit = 50
	// MaxLimit caps the limit query parameter.
	MaxLimit = 10000
)

// ChainSummary describes a registered chain.
type ChainSummary struct {
	ID         string        `json:"id"`
	Steps      []StepSummary `json:"steps"`
	References []string      `json:"references,omitempty"`
}

// StepSummary describes one step of a chain.
type StepSummary struct {
	ID   string    `json:"id"`
	Kind step.Kind `json:"kind"`
}

// Preview is the body of a rows response.
type Preview struct {
	Columns []string       `json:"columns"`
	Rows    []stream.Tuple `json:"rows"`
}

// Chains is the chain lookup the handler serves. *step.Registry implements it.
type Chains interface {
	Chains() []*step.Chain
	Get(id string) (*step.Chain, error)
	Invalidate(id string) ([]string, error)
}

// Handler serves the preview routes.
type Handler struct {
	chains Chains
	log    *logger.Logger
}

// NewHandler returns a handler over chains.
func NewHandler(chains Chains, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Get("api")
	}
	return &Handler{chains: chains, log: log.WithComponent("api")}
}

// Register adds the preview routes to r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/chains")
	g.GET("", h.List)
	g.GET("/:id/columns", h.Columns)
	g.GET("/:id/rows", h.Rows)
	g.POST("/:id/invalidate", h.Invalidate)
}

// List returns every chain with its steps.
func (h *Handler) List(c *gin.Context) {
	chains := h.chains.Chains()
	out := make([]ChainSummary, 0, len(chains))
	for _, ch := range chains {
		steps := make([]StepSummary, 0, len(ch.Steps()))
		for _, s := range ch.Steps() {
			steps = append(steps, StepSummary{ID: s.ID(), Kind: s.Kind()})
		}
		out = append(out, ChainSummary{ID: ch.ID(), Steps: steps, References: ch.References()})
	}
	server.RespondOKWithMeta(c, out, &server.Meta{Total: len(out)})
}

// Columns resolves a chain's output schema.
func (h *Handler) Columns(c *gin.Context) {
	h.run(c, "columns", func(j *job.Job, ch *step.Chain) (any, *server.Meta, error) {
		cols, err := ch.Columns(j)
		if err != nil {
			return nil, nil, err
		}
		return cols.Strings(), &server.Meta{Total: len(cols)}, nil
	})
}

// Rows previews up to limit rows of a chain. The columns parameter projects
// the rows onto a comma separated list of columns; complete=true keeps only
// rows without empty or invalid cells.
func (h *Handler) Rows(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	columns := parseColumns(c.Query("columns"))
	complete := c.Query("complete") == "true"
	h.run(c, "rows", func(j *job.Job, ch *step.Chain) (any, *server.Meta, error) {
		if len(columns) > 0 {
			have, err := ch.Columns(j)
			if err != nil {
				return nil, nil, err
			}
			for _, col := range columns {
				if !have.Contains(col) {
					return nil, nil, errors.InvalidInput("columns", fmt.Sprintf("unknown column %q", col))
				}
			}
		}
		r, err := ch.PreviewShaped(j, limit, rowShape(columns, complete))
		if err != nil {
			return nil, nil, err
		}
		rows := r.Rows
		if rows == nil {
			rows = []stream.Tuple{}
		}
		return Preview{Columns: r.Columns.Strings(), Rows: rows}, &server.Meta{Total: r.Len(), Limit: limit}, nil
	})
}

// Invalidate evicts the derived state of a chain and of the chains that
// union it. The response lists every invalidated chain.
func (h *Handler) Invalidate(c *gin.Context) {
	id := c.Param("id")
	ids, err := h.chains.Invalidate(id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	h.log.Debug("Invalidate served", logger.Fields(logger.FieldChain, id))
	server.RespondAccepted(c, gin.H{"invalidated": ids})
}

// run resolves the chain named by the id parameter and calls fn under a
// request job inside an API span.
func (h *Handler) run(c *gin.Context, op string, fn func(*job.Job, *step.Chain) (any, *server.Meta, error)) {
	id := c.Param("id")
	ch, err := h.chains.Get(id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	j := job.NewWithContext(c.Request.Context(), job.PriorityUserInitiated)
	defer j.Cancel()

	_, span := observability.StartSpan(j.Context(), observability.SpanAPIRequest,
		attribute.String(observability.AttrJobID, j.ID().String()),
		attribute.String("chain", id),
		attribute.String(logger.FieldOperation, op),
	)
	start := time.Now()
	data, meta, err := fn(j, ch)
	observability.EndSpan(span, err)

	log := h.log.WithJob(j.ID().String()).WithFields(logger.Fields(
		logger.FieldChain, id,
		logger.FieldOperation, op,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	if err != nil {
		if errors.IsCancelled(err) || j.IsCancelled() {
			log.Debug("Request cancelled")
		} else {
			log.Warn("Request failed", logger.ErrorFields(op, err))
		}
		server.RespondWithError(c, err)
		return
	}
	log.Debug("Request served")

	if meta == nil {
		meta = &server.Meta{}
	}
	meta.JobID = j.ID().String()
	meta.ElapsedMS = time.Since(start).Milliseconds()
	server.RespondOKWithMeta(c, data, meta)
}

func parseColumns(raw string) stream.Columns {
	var out stream.Columns
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, stream.Column(name))
		}
	}
	return out
}

func isComplete(_ stream.Columns, row stream.Tuple) bool {
	for _, v := range row {
		if v.IsEmpty() || v.IsInvalid() {
			return false
		}
	}
	return true
}

// rowShape filters and projects a preview. It returns nil when neither is
// requested.
func rowShape(columns stream.Columns, complete bool) func(stream.Stream) stream.Stream {
	if len(columns) == 0 && !complete {
		return nil
	}
	return func(s stream.Stream) stream.Stream {
		if complete {
			s = stream.Filter(s, isComplete)
		}
		if len(columns) > 0 {
			s = stream.Map(s, columns, func(upstream stream.Columns, row stream.Tuple) (stream.Tuple, error) {
				out := make(stream.Tuple, len(columns))
				for i, col := range columns {
					idx := upstream.Index(col)
					if idx < 0 {
						return nil, errors.InvalidInput("columns", fmt.Sprintf("unknown column %q", col))
					}
					out[i] = row[idx]
				}
				return out, nil
			})
		}
		return s
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxLimit {
		return 0, errors.InvalidInput("limit", "must be an integer between 1 and "+strconv.Itoa(MaxLimit))
	}
	return n, nil
}
