package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/abigate/internal/obs"
)

// Requests is the request API of the build service.
type Requests interface {
	Request(ctx context.Context, id string) (*obs.Request, error)
	ChangeReviewState(ctx context.Context, id, newState, byGroup, message string) error
}

// Record is everything persisted for one processed request.
type Record struct {
	RequestID string
	State     State
	Result    Decision
	Reports   []*Report
}

// Store persists request results. Save replaces earlier results of the
// same request and returns the ids assigned to each report's LibResults.
type Store interface {
	IsDone(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, rec Record) ([][]int64, error)
}

// Artifacts keeps HTML reports beyond the local report directory. Put
// returns the name the report is stored under.
type Artifacts interface {
	Put(ctx context.Context, requestID, name, localPath string) (string, error)
}

// ProcessOptions controls request processing.
type ProcessOptions struct {
	// Force processes requests already done.
	Force bool
	// NoReview stores results without changing the review state.
	NoReview    bool
	ReviewGroup string
	WebURL      string
}

// Outcome is the result of processing one request.
type Outcome struct {
	RequestID string    `json:"requestID"`
	State     State     `json:"state"`
	Decision  Decision  `json:"decision"`
	Reports   []*Report `json:"reports"`
	Summary   string    `json:"summary,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"`
}

// Processor drives requests through the checker and records the outcome.
type Processor struct {
	checker   *Checker
	requests  Requests
	store     Store
	artifacts Artifacts
	opts      ProcessOptions
	logger    *slog.Logger
}

// NewProcessor returns a Processor. artifacts may be nil.
func NewProcessor(checker *Checker, requests Requests, store Store, artifacts Artifacts, opts ProcessOptions, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		checker:   checker,
		requests:  requests,
		store:     store,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger,
	}
}

// Process checks every submission of request id, stores the results and,
// unless disabled, updates the review. Requests already done are skipped
// unless forced.
func (p *Processor) Process(ctx context.Context, id string) (*Outcome, error) {
	ctx = WithRequestID(ctx, id)
	if p.opts.NoReview && !p.opts.Force {
		done, err := p.store.IsDone(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading state of request %s: %w", id, err)
		}
		if done {
			p.logger.InfoContext(ctx, fmt.Sprintf("skip request %s which is already done", id))
			return &Outcome{RequestID: id, State: StateDone, Skipped: true}, nil
		}
	}

	req, err := p.requests.Request(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching request %s: %w", id, err)
	}

	out := &Outcome{RequestID: id}
	var decisions []Decision
	for _, a := range req.Actions {
		switch a.Type {
		case "submit", "maintenance_incident":
		default:
			p.logger.InfoContext(ctx, "unhandled request type", "request", id, "type", a.Type)
			decisions = append(decisions, Pending)
			continue
		}
		report := p.checker.Check(ctx, Submission{
			SrcProject:     a.SrcProject,
			SrcPackage:     a.SrcPackage,
			SrcRev:         a.SrcRev,
			DstProject:     a.TgtProject,
			DstPackage:     a.TgtPackage,
			StagingProject: req.StagingProject(a.TgtProject),
		})
		decisions = append(decisions, report.Decision)
		if !report.Skipped {
			out.Reports = append(out.Reports, report)
		}
	}
	out.Decision = Combine(decisions...)
	out.State = StateSeen
	if out.Decision != Pending {
		out.State = StateDone
	}

	if p.artifacts != nil {
		p.upload(ctx, id, out.Reports)
	}

	ids, err := p.store.Save(ctx, Record{RequestID: id, State: out.State, Result: out.Decision, Reports: out.Reports})
	if err != nil {
		return nil, fmt.Errorf("saving results of request %s: %w", id, err)
	}

	out.Summary = Summary(out.Reports, ids, p.opts.WebURL, id)
	if out.Decision != Pending && out.Summary == "" {
		out.Summary = fmt.Sprintf("ABI checker result: [%s](%s/request/%s)", out.Decision, p.opts.WebURL, id)
	}

	if p.opts.NoReview || out.Decision == Pending {
		return out, nil
	}
	if err := p.requests.ChangeReviewState(ctx, id, out.Decision.String(), p.opts.ReviewGroup, out.Summary); err != nil {
		return out, fmt.Errorf("changing review of request %s: %w", id, err)
	}
	p.logger.InfoContext(ctx, "review changed", "request", id, "state", out.Decision.String())
	return out, nil
}

// upload stores the HTML reports. A failed upload keeps the local name.
func (p *Processor) upload(ctx context.Context, id string, reports []*Report) {
	for _, r := range reports {
		for i := range r.LibResults {
			lr := &r.LibResults[i]
			if lr.ReportPath == "" {
				continue
			}
			name, err := p.artifacts.Put(ctx, id, lr.Report, lr.ReportPath)
			if err != nil {
				p.logger.ErrorContext(ctx, "uploading report", "report", lr.Report, "error", err)
				continue
			}
			lr.Report = name
		}
	}
}
