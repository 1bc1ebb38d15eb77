package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/iepdocumentflow/internal/datastore"
	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Orchestrator drives one document through the workflow states. It owns
// ordering, retries and failure recording; stages only own their artifacts.
type Orchestrator struct {
	store    datastore.Facade
	language LanguageEvaluator
	policy   Policy
	machine  *machine
	newRunID func() string
}

// NewWith builds an orchestrator and validates its transition table.
func NewWith(store datastore.Facade, stages Stages, language LanguageEvaluator, policy Policy) (*Orchestrator, error) {
	if store == nil || language == nil {
		return nil, fmt.Errorf("orchestrator needs a datastore and a language evaluator")
	}
	m, err := buildMachine(stages)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	return &Orchestrator{store: store, language: language, policy: policy.normalized(), machine: m, newRunID: uuid.NewString}, nil
}

var errLeaseLost = errors.New("execution lease was lost")

// execution is the mutable state of one Run.
type execution struct {
	req      models.ExecutionRequest
	stageReq *models.StageRequest
	logCtx   *slog.Logger
}

// Run executes the workflow for req until a terminal state. A redelivered
// execution resumes at the state it last entered, and only one run of an
// execution may be active at a time. Failures inside the workflow are
// recorded on the document and reported in the response; the returned error
// is reserved for requests that must not run at all.
func (o *Orchestrator) Run(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResponse, error) {
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID)
	if req.DocumentID == "" || req.ExecutionID == "" {
		return nil, models.Invalid("Orchestrator", fmt.Errorf("documentId and executionId are required"))
	}

	claim := datastore.Claim{ExecutionID: req.ExecutionID, RunID: o.newRunID(), TTL: o.policy.LeaseTTL}
	doc, err := o.store.ClaimExecution(ctx, req.DocumentID, claim)
	switch {
	case errors.Is(err, models.ErrExecutionRunning):
		logCtx.Warn("Execution is already running; refusing to run it twice.", "error", err)
		return nil, models.Conflict("Orchestrator", err)
	case models.KindOf(err) == models.KindPersistenceConflict:
		logCtx.Warn("Execution superseded; refusing to run.", "error", err)
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to claim execution: %w", err)
	}
	if doc.Status.Terminal() {
		// Redelivery of an execution that already finished.
		logCtx.Info("Execution already finished.", "status", doc.Status)
		return responseFor(doc.Status, doc.ErrorKind), nil
	}
	logCtx = logCtx.With("runId", claim.RunID)

	ctx, cancel := context.WithTimeout(ctx, o.policy.ExecutionTimeout)
	defer cancel()
	runCtx, stop := context.WithCancelCause(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		o.heartbeat(runCtx, stop, req.DocumentID, claim, logCtx)
	}()
	defer func() {
		stop(nil)
		<-heartbeatDone
		if err := o.store.ReleaseClaim(context.WithoutCancel(ctx), req.DocumentID, claim); err != nil {
			logCtx.Warn("Failed to release execution lease", "error", err)
		}
	}()

	exec := &execution{
		req: req,
		stageReq: &models.StageRequest{
			DocumentID:     req.DocumentID,
			ExecutionID:    req.ExecutionID,
			SourceLocation: doc.SourceLocation,
			ContentType:    req.ContentType,
		},
		logCtx: logCtx,
	}
	if exec.stageReq.ContentType == "" {
		exec.stageReq.ContentType = doc.ContentType
	}

	state := o.machine.resumeState(doc.CurrentStage)
	if state != o.machine.entry {
		logCtx.Info("Resuming execution.", "state", state, "recordedStage", doc.CurrentStage)
	}
	for !state.Terminal() {
		next, err := o.step(runCtx, exec, state)
		if err != nil {
			if errors.Is(context.Cause(runCtx), errLeaseLost) {
				logCtx.Warn("Stopped after losing the execution lease; leaving the document to its new owner.", "state", state)
				return nil, models.Conflict("Orchestrator", errLeaseLost)
			}
			kind := o.fail(runCtx, exec, state, err)
			return responseFor(models.StatusFailed, kind), nil
		}
		state = next
	}

	logCtx.Info("Execution succeeded.")
	return responseFor(models.StatusProcessed, ""), nil
}

// heartbeat renews the run's lease until ctx ends. Losing the lease to
// another run cancels ctx with errLeaseLost.
func (o *Orchestrator) heartbeat(ctx context.Context, stop context.CancelCauseFunc, documentID string, claim datastore.Claim, logCtx *slog.Logger) {
	ticker := time.NewTicker(max(claim.TTL/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := o.store.RenewClaim(ctx, documentID, claim)
		switch {
		case err == nil:
		case models.KindOf(err) == models.KindPersistenceConflict:
			logCtx.Error("Execution lease lost.", "error", err)
			stop(errLeaseLost)
			return
		case ctx.Err() == nil:
			logCtx.Warn("Failed to renew execution lease", "error", err)
		}
	}
}

// step commits entry into state, runs it and returns the next state.
func (o *Orchestrator) step(ctx context.Context, exec *execution, state State) (State, error) {
	n := o.machine.nodes[state]
	err := o.store.UpdateStage(ctx, exec.req.DocumentID, datastore.Patch{
		ExecutionID: exec.req.ExecutionID,
		Stage:       string(state),
	})
	if err != nil {
		if ctx.Err() != nil {
			return StateFailed, models.TimedOut(string(state), ctx.Err())
		}
		return StateFailed, fmt.Errorf("failed to enter state %s: %w", state, err)
	}
	exec.logCtx.Info("Entering state.", "state", state)

	switch n.kind {
	case kindChoice:
		return o.evaluateLanguage(ctx, exec)
	case kindParallel:
		return n.next, o.runParallel(ctx, exec, n)
	}

	err = o.runStage(ctx, exec, n.stages[0])
	if err != nil && n.bestEffort && models.KindOf(err) != models.KindTimeout {
		exec.logCtx.Warn("Best-effort state failed; continuing.", "state", state, "errorKind", models.KindOf(err), "error", err)
		return n.next, nil
	}
	if err != nil {
		return StateFailed, err
	}
	if state == StateDeleteSource {
		exec.stageReq.SourceLocation = ""
	}
	return n.next, nil
}

func (o *Orchestrator) runStage(ctx context.Context, exec *execution, st Stage) error {
	return o.policy.retry(ctx, exec.logCtx, st.Name(), func(ctx context.Context) error {
		req := *exec.stageReq
		return st.Run(ctx, &req)
	})
}

// runParallel runs the state's stages concurrently; the first failure cancels
// the others.
func (o *Orchestrator) runParallel(ctx context.Context, exec *execution, n *node) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, st := range n.stages {
		eg.Go(func() error {
			return o.runStage(gctx, exec, st)
		})
	}
	err := eg.Wait()
	if err != nil && ctx.Err() != nil {
		return models.TimedOut(string(n.state), ctx.Err())
	}
	return err
}

func (o *Orchestrator) evaluateLanguage(ctx context.Context, exec *execution) (State, error) {
	var decision models.LanguageDecision
	err := o.policy.retry(ctx, exec.logCtx, string(StateEvaluateLanguage), func(ctx context.Context) error {
		var err error
		decision, err = o.language.Evaluate(ctx, exec.req.UserID)
		return err
	})
	if err != nil {
		return StateFailed, err
	}
	if !decision.Translate {
		return StateCombine, nil
	}

	exec.stageReq.TargetLanguage = decision.TargetLanguage
	err = o.store.SetStatus(ctx, exec.req.DocumentID, models.StatusProcessingTranslations, datastore.WithExecution(exec.req.ExecutionID))
	if err != nil {
		return StateFailed, fmt.Errorf("failed to mark document as translating: %w", err)
	}
	exec.logCtx.Info("Translation branch selected.", "targetLanguage", decision.TargetLanguage)
	return StateTranslate, nil
}

// fail records err on the document and returns the recorded kind. The write
// outlives the execution budget so a timed-out run still lands in FAILED.
func (o *Orchestrator) fail(ctx context.Context, exec *execution, state State, err error) models.ErrorKind {
	kind := models.KindOf(err)
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = models.KindTimeout
	}
	stage := models.StageOf(err)
	if stage == "" {
		stage = string(state)
	}
	exec.logCtx.Error("Execution failed.", "state", state, "errorKind", kind, "errorStage", stage, "error", err)

	writeCtx := context.WithoutCancel(ctx)
	markErr := o.store.SetStatus(writeCtx, exec.req.DocumentID, models.StatusFailed,
		datastore.WithExecution(exec.req.ExecutionID),
		datastore.WithErrorDetail(datastore.ErrorDetail{Kind: kind, Stage: stage, Message: err.Error()}))
	switch {
	case markErr == nil:
	case models.KindOf(markErr) == models.KindPersistenceConflict:
		exec.logCtx.Warn("Document was finalized elsewhere; keeping its recorded outcome.", "updateError", markErr)
	default:
		exec.logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", markErr)
	}
	return kind
}

func responseFor(status models.Status, kind models.ErrorKind) *models.ExecutionResponse {
	resp := &models.ExecutionResponse{Status: "success", DocumentStatus: status}
	if status == models.StatusFailed {
		resp.Status = "failed"
		resp.ErrorKind = kind
	}
	return resp
}
