package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/observability"
	"github.com/ashureev/myaa/internal/store"
)

// Options configures an Orchestrator. Zero values disable the optional parts.
type Options struct {
	// SerializeTurns makes turns on the same session key run one at a time,
	// from before Ingest until after Finalize. Without it concurrent turns on
	// one session may each build on the same prior version and the later
	// Ingest wins.
	SerializeTurns bool
	Journal        store.Journal
	Metrics        *observability.Metrics
	Tracer         *observability.TraceManager
	Logger         *slog.Logger
}

// Orchestrator is the entry point front-ends use to run a turn.
type Orchestrator struct {
	pipeline *Pipeline
	locks    *TurnLocks
	journal  store.Journal
	metrics  *observability.Metrics
	tracer   *observability.TraceManager
	logger   *slog.Logger
}

// NewOrchestrator wires p with the given options.
func NewOrchestrator(p *Pipeline, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Journal == nil {
		opts.Journal = store.NopJournal{}
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewTraceManager("myaa")
	}
	o := &Orchestrator{
		pipeline: p,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
	}
	if opts.SerializeTurns {
		o.locks = NewTurnLocks()
	}
	return o
}

// Pipeline returns the underlying stages.
func (o *Orchestrator) Pipeline() *Pipeline {
	return o.pipeline
}

// Journal returns the turn journal.
func (o *Orchestrator) Journal() store.Journal {
	return o.journal
}

// TurnResult describes a completed turn.
type TurnResult struct {
	StateID string         `json:"state_id"`
	Reply   domain.Message `json:"reply"`
	// Stored is false when the state expired or was replaced before the reply
	// could be folded in.
	Stored bool `json:"stored"`
}

// Run runs one turn for sessionKey and returns the reply. The reply is
// returned even when the state expired while the provider was working.
func (o *Orchestrator) Run(ctx context.Context, sessionKey string, inbound domain.Message) (domain.Message, error) {
	res, err := o.Execute(ctx, sessionKey, "", inbound)
	if err != nil {
		return domain.Message{}, err
	}
	return res.Reply, nil
}

// RunAs is Run with an explicit responder character for the new state
// version. An empty responderID keeps the session's current responder.
func (o *Orchestrator) RunAs(ctx context.Context, sessionKey, responderID string, inbound domain.Message) (domain.Message, error) {
	res, err := o.Execute(ctx, sessionKey, responderID, inbound)
	if err != nil {
		return domain.Message{}, err
	}
	return res.Reply, nil
}

// Execute runs Ingest, Generate and Finalize for one inbound message. A failing
// stage aborts the ones after it.
func (o *Orchestrator) Execute(ctx context.Context, sessionKey, responderID string, inbound domain.Message) (*TurnResult, error) {
	start := time.Now()
	ctx, span := o.tracer.StartTurnSpan(ctx, sessionKey, responderID)
	defer span.End()

	rec := &domain.TurnRecord{
		SessionKey:  sessionKey,
		ResponderID: responderID,
		Inbound:     inbound,
	}
	fail := func(err error) (*TurnResult, error) {
		o.tracer.RecordError(span, err)
		rec.Outcome = domain.TurnFailed
		rec.Error = err.Error()
		o.finish(ctx, rec, start)
		return nil, err
	}

	if o.locks != nil {
		waitStart := time.Now()
		release, err := o.locks.Acquire(ctx, sessionKey)
		o.metrics.ObserveLockWait(time.Since(waitStart))
		if err != nil {
			return fail(err)
		}
		defer release()
	}

	stateID, err := o.ingest(ctx, sessionKey, inbound, responderID)
	if err != nil {
		return fail(err)
	}
	rec.StateID = stateID

	reply, err := o.generate(ctx, stateID)
	if err != nil {
		o.logger.Warn("Turn failed",
			"session_key", sessionKey,
			"state_id", stateID,
			"error", err,
		)
		return fail(err)
	}
	rec.Reply = &reply

	stored := o.finalize(ctx, stateID, reply)
	if stored {
		rec.Outcome = domain.TurnCompleted
	} else {
		rec.Outcome = domain.TurnDropped
		o.logger.Info("Reply not stored, state gone",
			"session_key", sessionKey,
			"state_id", stateID,
		)
	}

	o.tracer.SetSpanSuccess(span)
	o.finish(ctx, rec, start)
	return &TurnResult{StateID: stateID, Reply: reply, Stored: stored}, nil
}

func (o *Orchestrator) ingest(ctx context.Context, sessionKey string, inbound domain.Message, responderID string) (string, error) {
	ctx, span := o.tracer.StartStageSpan(ctx, "ingest", "")
	defer span.End()
	start := time.Now()

	id, err := o.pipeline.Ingest(ctx, sessionKey, inbound, responderID)
	o.metrics.ObserveStage("ingest", time.Since(start))
	o.tracer.RecordError(span, err)
	return id, err
}

func (o *Orchestrator) generate(ctx context.Context, stateID string) (domain.Message, error) {
	ctx, span := o.tracer.StartStageSpan(ctx, "generate", stateID)
	defer span.End()
	start := time.Now()

	reply, err := o.pipeline.Generate(ctx, stateID)
	o.metrics.ObserveStage("generate", time.Since(start))
	o.tracer.RecordError(span, err)
	return reply, err
}

func (o *Orchestrator) finalize(ctx context.Context, stateID string, reply domain.Message) bool {
	ctx, span := o.tracer.StartStageSpan(ctx, "finalize", stateID)
	defer span.End()
	start := time.Now()

	ok := o.pipeline.Finalize(ctx, stateID, reply)
	o.metrics.ObserveStage("finalize", time.Since(start))
	return ok
}

// finish records the turn in the journal and metrics. Journal failures are
// logged, never returned.
func (o *Orchestrator) finish(ctx context.Context, rec *domain.TurnRecord, start time.Time) {
	rec.Duration = time.Since(start)
	if rec.ResponderID == "" && rec.StateID != "" {
		if st, ok := o.pipeline.Cache().Get(rec.StateID); ok {
			rec.ResponderID = st.ResponderID
		}
	}

	o.metrics.ObserveTurn(string(rec.Outcome))
	o.metrics.SetStates(o.pipeline.Cache().Len())

	if err := o.journal.RecordTurn(context.WithoutCancel(ctx), rec); err != nil {
		o.metrics.IncJournalErrors()
		o.logger.Warn("Failed to record turn",
			"session_key", rec.SessionKey,
			"state_id", rec.StateID,
			"error", err,
		)
	}
}
