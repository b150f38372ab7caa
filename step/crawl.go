package step

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/httpfetch"
	"github.com/kbukum/conduit/job"
	"github.com/kbukum/conduit/logger"
	"github.com/kbukum/conduit/observability"
	"github.com/kbukum/conduit/parallel"
	"github.com/kbukum/conduit/resilience"
	"github.com/kbukum/conduit/stream"
	"github.com/kbukum/conduit/validation"
)

const invalidURLMessage = "Invalid URL"

// crawlStep fetches the URL found in each row and writes the outcome into
// target columns. Rows are emitted in the order their fetches complete.
// MaxPerSecond bounds the starts of the step as a whole, across batches and
// across every stream the step produces.
type crawlStep struct {
	base
	cfg     CrawlConfig
	opts    parallel.Options
	fetcher httpfetch.Fetcher
	log     *logger.Logger
}

func newCrawlStep(b base, cfg CrawlConfig, env Env) (*crawlStep, error) {
	if env.Fetcher == nil {
		return nil, errors.InvalidConfig("crawl", "no fetcher configured")
	}
	opts := parallel.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxPerSecond:  cfg.MaxPerSecond,
		ProgressKey:   "crawl:" + b.id,
	}
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = env.Defaults.MaxConcurrent
	}
	if opts.MaxPerSecond == 0 {
		opts.MaxPerSecond = env.Defaults.MaxPerSecond
	}
	if opts.MaxPerSecond > 0 {
		opts.Limiter = resilience.PerSecond(opts.MaxPerSecond)
	}
	return &crawlStep{
		base:    b,
		cfg:     cfg,
		opts:    opts,
		fetcher: env.Fetcher,
		log:     env.logger().WithComponent("crawl-step").WithStep(b.id, string(b.kind)),
	}, nil
}

func (s *crawlStep) Apply(_ *job.Job, upstream stream.Stream) (stream.Stream, error) {
	return stream.NewTransformer(upstream, s), nil
}

// OutputColumns appends the target columns that upstream does not already have.
func (s *crawlStep) OutputColumns(_ *job.Job, _ stream.Stream, upstream stream.Columns) (stream.Columns, error) {
	if !upstream.Contains(stream.Column(s.cfg.URLColumn)) {
		return nil, errors.UnknownColumn(s.cfg.URLColumn)
	}
	out := append(stream.Columns(nil), upstream...)
	for _, c := range s.cfg.targets() {
		if !out.Contains(stream.Column(c)) {
			out = append(out, stream.Column(c))
		}
	}
	return out, nil
}

type crawlOutcome struct {
	body, status, err, elapsed stream.Value
}

func invalidOutcome(message string, elapsed stream.Value) crawlOutcome {
	return crawlOutcome{
		body:    stream.Invalid(),
		status:  stream.Invalid(),
		err:     stream.String(message),
		elapsed: elapsed,
	}
}

// TransformRows crawls one batch. Rows not started before the job is
// cancelled are dropped; fetches already running are not interrupted.
func (s *crawlStep) TransformRows(j *job.Job, upstream, output stream.Columns, rows []stream.Tuple) (out []stream.Tuple, err error) {
	ctx, span := observability.StartSpan(j.Context(), observability.SpanCrawlBatch,
		attribute.String(observability.AttrJobID, j.ID().String()),
		attribute.String(observability.AttrStepID, s.id),
		attribute.Int(observability.AttrRows, len(rows)),
	)
	defer func() { observability.EndSpan(span, err) }()
	fetchCtx := context.WithoutCancel(ctx)

	urlIdx := upstream.Index(stream.Column(s.cfg.URLColumn))
	targets := map[string]int{
		s.cfg.BodyColumn:         output.Index(stream.Column(s.cfg.BodyColumn)),
		s.cfg.StatusColumn:       output.Index(stream.Column(s.cfg.StatusColumn)),
		s.cfg.ErrorColumn:        output.Index(stream.Column(s.cfg.ErrorColumn)),
		s.cfg.ResponseTimeColumn: output.Index(stream.Column(s.cfg.ResponseTimeColumn)),
	}
	delete(targets, "")

	crawled := parallel.Map(j, rows, s.opts, func(j *job.Job, row stream.Tuple) stream.Tuple {
		oc := s.crawl(fetchCtx, row[urlIdx])
		res := make(stream.Tuple, len(output))
		copy(res, row)
		s.place(res, targets, oc)
		return res
	})

	if j.IsCancelled() {
		return nil, errors.Cancelled("crawl")
	}
	s.log.WithJob(j.ID().String()).Debug("Crawled batch", logger.Fields(logger.FieldRows, len(crawled)))
	return crawled, nil
}

func (s *crawlStep) place(row stream.Tuple, targets map[string]int, oc crawlOutcome) {
	set := func(col string, v stream.Value) {
		if idx, ok := targets[col]; ok && idx >= 0 {
			row[idx] = v
		}
	}
	set(s.cfg.BodyColumn, oc.body)
	set(s.cfg.StatusColumn, oc.status)
	set(s.cfg.ErrorColumn, oc.err)
	set(s.cfg.ResponseTimeColumn, oc.elapsed)
}

func (s *crawlStep) crawl(ctx context.Context, raw stream.Value) crawlOutcome {
	u, ok := raw.AsString()
	if !ok || !validation.IsHTTPURL(u) {
		return invalidOutcome(invalidURLMessage, stream.Invalid())
	}
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, u)
	elapsed := stream.Double(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		s.log.Debug("Fetch failed", logger.Fields(logger.FieldURL, u, logger.FieldError, err.Error()))
		return invalidOutcome(httpfetch.Message(err), elapsed)
	}
	return crawlOutcome{
		body:    stream.String(string(resp.Body)),
		status:  stream.Int(int64(resp.StatusCode)),
		err:     stream.String(""),
		elapsed: elapsed,
	}
}
