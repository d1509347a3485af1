package orchestrator

// Package orchestrator is the state machine behind every turn. It owns
// session lifecycle, sequences the analyzer, step generator, feedback
// interpreter and effectiveness scorer, and persists each transition before
// a response leaves the process. The only errors it surfaces to callers are
// persistence failures; everything else resolves to a fallback response.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servicepilot/servicepilot-ai/internal/audit"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	llmtypes "github.com/servicepilot/servicepilot-ai/internal/llm/types"
	"github.com/servicepilot/servicepilot-ai/internal/metrics"
	"github.com/servicepilot/servicepilot-ai/internal/prompt"
	"github.com/servicepilot/servicepilot-ai/internal/registry"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/feedback"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/stepgen"
	"github.com/servicepilot/servicepilot-ai/pkg/types"
)

// ErrEmptyInput is returned when a turn carries no text at all. It is the
// caller's validation failure, not an engine fault.
var ErrEmptyInput = errors.New("orchestrator: free_text is required")

// chatFallbackMessage is the worst-case reply when generation is down and no
// interactive session applies. The technician never sees a raw error.
const chatFallbackMessage = "I can't generate a detailed answer right now. " +
	"If you're reporting an equipment problem, include the machine ID and " +
	"describe what the machine is doing so I can start guided troubleshooting."

// Analyzer produces an assessment from a report. Never errors; failures
// degrade to a generic assessment internally.
type Analyzer interface {
	Analyze(ctx context.Context, report string, machine *troubleshoot.MachineContext) *troubleshoot.Assessment
}

// Generator proposes next steps. Satisfied by stepgen.Generator.
type Generator interface {
	Next(ctx context.Context, assessment *troubleshoot.Assessment, machineModel string, priorSteps []*troubleshoot.Step) (*stepgen.Proposal, error)
}

// Recorder appends solution outcomes. Satisfied by effectiveness.Scorer.
type Recorder interface {
	RecordOutcome(ctx context.Context, category troubleshoot.ProblemCategory, machineModel, solutionText string, succeeded, expertVerified bool) error
}

// ChatGateway is the completion boundary for plain (non-interactive) turns.
type ChatGateway interface {
	Complete(ctx context.Context, req *llmtypes.CompletionRequest) (string, error)
}

// Orchestrator handles turns.
type Orchestrator struct {
	store    db.Store
	registry registry.Client
	analyzer Analyzer
	stepgen  Generator
	recorder Recorder
	gateway  ChatGateway
	prompts  prompt.Manager
	audit    audit.Logger
	logger   *zap.Logger

	threshold int

	// wg tracks asynchronous effectiveness updates so shutdown (and tests)
	// can drain them.
	wg sync.WaitGroup
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Store               db.Store
	Registry            registry.Client
	Analyzer            Analyzer
	StepGenerator       Generator
	Recorder            Recorder
	Gateway             ChatGateway
	Prompts             prompt.Manager
	Audit               audit.Logger
	Logger              *zap.Logger
	EscalationThreshold int
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := opts.EscalationThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNop()
	}
	return &Orchestrator{
		store:     opts.Store,
		registry:  opts.Registry,
		analyzer:  opts.Analyzer,
		stepgen:   opts.StepGenerator,
		recorder:  opts.Recorder,
		gateway:   opts.Gateway,
		prompts:   opts.Prompts,
		audit:     opts.Audit,
		logger:    logger,
		threshold: threshold,
	}
}

// Wait drains in-flight asynchronous effectiveness updates. Called on
// shutdown and by tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// HandleTurn processes one technician turn. The active session is re-derived
// from (user, machine) server-side; a stale session hint from the transport
// is ignored. Only persistence failures surface as errors.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *types.TurnRequest) (*types.TurnResponse, error) {
	start := time.Now()
	resp, err := o.handleTurn(ctx, req)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("", "error").Inc()
		return nil, err
	}
	metrics.TurnsTotal.WithLabelValues(resp.Kind, "ok").Inc()
	metrics.TurnDuration.WithLabelValues(resp.Kind).Observe(time.Since(start).Seconds())
	return resp, nil
}

func (o *Orchestrator) handleTurn(ctx context.Context, req *types.TurnRequest) (*types.TurnResponse, error) {
	freeText := strings.TrimSpace(req.FreeText)
	if freeText == "" {
		return nil, ErrEmptyInput
	}

	// Interactive mode requires a machine context.
	if req.MachineID == "" {
		return o.plainChat(ctx, freeText), nil
	}

	machine, err := o.registry.GetMachine(ctx, req.MachineID)
	if err != nil {
		// Registry trouble degrades to no machine context; it must not take
		// an in-flight session down with it.
		o.logger.Warn("registry lookup failed", zap.String("machine_id", req.MachineID), zap.Error(err))
		machine = nil
	}

	sess, err := o.store.GetActiveSession(ctx, req.UserID, req.MachineID)
	switch {
	case err == nil:
		return o.continueSession(ctx, sess, machine, freeText)
	case errors.Is(err, db.ErrNotFound):
		if machine == nil {
			return o.plainChat(ctx, freeText), nil
		}
		if !feedback.IsProblemReport(freeText) {
			return o.plainChat(ctx, freeText), nil
		}
		return o.startSession(ctx, req, machine, freeText)
	default:
		return nil, fmt.Errorf("load active session: %w", err)
	}
}

// ─── New sessions ─────────────────────────────────────────────────────────────

func (o *Orchestrator) startSession(ctx context.Context, req *types.TurnRequest, machine *troubleshoot.MachineContext, freeText string) (*types.TurnResponse, error) {
	assessment := o.analyzer.Analyze(ctx, freeText, machine)

	assessJSON, err := json.Marshal(assessment)
	if err != nil {
		return nil, fmt.Errorf("encode assessment: %w", err)
	}

	now := time.Now().UTC()
	sess := &db.SessionRecord{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		MachineID:  req.MachineID,
		Category:   string(assessment.Category),
		Report:     freeText,
		Assessment: string(assessJSON),
		Status:     string(troubleshoot.StatusDiagnosing),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := o.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, db.ErrActiveSessionExists) {
			// Lost a concurrent race: re-read the winner and treat this turn
			// as continuation input.
			existing, rerr := o.store.GetActiveSession(ctx, req.UserID, req.MachineID)
			if rerr != nil {
				return nil, fmt.Errorf("reload active session: %w", rerr)
			}
			return o.continueSession(ctx, existing, machine, freeText)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	_ = o.audit.LogSessionStarted(ctx, sess.ID, req.UserID, req.MachineID)
	metrics.SessionsStarted.Inc()

	return o.issueStep(ctx, sess, assessment, machineModel(machine), nil)
}

// ─── Continuation turns ───────────────────────────────────────────────────────

func (o *Orchestrator) continueSession(ctx context.Context, sess *db.SessionRecord, machine *troubleshoot.MachineContext, freeText string) (*types.TurnResponse, error) {
	assessment := o.loadAssessment(sess)
	model := machineModel(machine)

	openStep, err := o.store.GetOpenStep(ctx, sess.ID)
	if errors.Is(err, db.ErrNotFound) {
		// A crash (or caller disconnect) landed between a recorded feedback
		// and the next step append. Resume by issuing the next step.
		steps, serr := o.store.GetSteps(ctx, sess.ID)
		if serr != nil {
			return nil, fmt.Errorf("load steps: %w", serr)
		}
		return o.issueStep(ctx, sess, assessment, model, steps)
	}
	if err != nil {
		return nil, fmt.Errorf("load open step: %w", err)
	}

	outcome := feedback.Classify(freeText)
	_ = o.audit.LogFeedbackReceived(ctx, sess.ID, openStep.Number, string(outcome))
	metrics.FeedbackClassified.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case troubleshoot.OutcomeWorked:
		return o.completeSession(ctx, sess, openStep, model, freeText)

	case troubleshoot.OutcomeDidntWork, troubleshoot.OutcomePartiallyWorked:
		return o.advanceSession(ctx, sess, openStep, assessment, model, freeText, outcome)

	default:
		// Unclear input is a clarification turn: keep the step open and
		// re-present it, never count it as a failure.
		return o.representStep(sess, assessment, openStep,
			"Just to confirm the current step: please try it and tell me whether it worked."), nil
	}
}

func (o *Orchestrator) completeSession(ctx context.Context, sess *db.SessionRecord, openStep *db.StepRecord, model, freeText string) (*types.TurnResponse, error) {
	fb := &db.FeedbackRecord{
		StepID:    openStep.ID,
		SessionID: sess.ID,
		RawInput:  freeText,
		Outcome:   string(troubleshoot.OutcomeWorked),
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.RecordFeedback(ctx, fb, string(troubleshoot.StatusCompleted)); err != nil {
		if errors.Is(err, db.ErrDuplicateFeedback) {
			// Resubmission of an already-processed turn: acknowledge, don't
			// double-apply.
			return o.completionResponse(sess, openStep.Number), nil
		}
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	o.recordOutcomeAsync(sess, openStep, model, true)
	_ = o.audit.LogSessionCompleted(ctx, sess.ID, openStep.Number, time.Since(sess.CreatedAt))
	metrics.SessionsEnded.WithLabelValues(string(troubleshoot.StatusCompleted)).Inc()

	return o.completionResponse(sess, openStep.Number), nil
}

func (o *Orchestrator) advanceSession(ctx context.Context, sess *db.SessionRecord, openStep *db.StepRecord, assessment *troubleshoot.Assessment, model, freeText string, outcome troubleshoot.Outcome) (*types.TurnResponse, error) {
	steps, err := o.store.GetSteps(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	// Escalate on the threshold-th failed step, not before or after.
	if len(steps) >= o.threshold {
		fb := &db.FeedbackRecord{
			StepID:    openStep.ID,
			SessionID: sess.ID,
			RawInput:  freeText,
			Outcome:   string(outcome),
			CreatedAt: time.Now().UTC(),
		}
		if err := o.store.RecordFeedback(ctx, fb, string(troubleshoot.StatusEscalated)); err != nil {
			if errors.Is(err, db.ErrDuplicateFeedback) {
				return o.escalationResponse(sess, len(steps)), nil
			}
			return nil, fmt.Errorf("record feedback: %w", err)
		}
		if outcome == troubleshoot.OutcomeDidntWork {
			o.recordOutcomeAsync(sess, openStep, model, false)
		}
		reason := fmt.Sprintf("%d troubleshooting steps attempted without success", len(steps))
		_ = o.audit.LogSessionEscalated(ctx, sess.ID, reason)
		metrics.SessionsEnded.WithLabelValues(string(troubleshoot.StatusEscalated)).Inc()
		return o.escalationResponse(sess, len(steps)), nil
	}

	fb := &db.FeedbackRecord{
		StepID:    openStep.ID,
		SessionID: sess.ID,
		RawInput:  freeText,
		Outcome:   string(outcome),
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.RecordFeedback(ctx, fb, string(troubleshoot.StatusDiagnosing)); err != nil {
		if errors.Is(err, db.ErrDuplicateFeedback) {
			// Already processed: return whatever step is open now, or resume
			// issuing if the append itself was lost.
			if current, gerr := o.store.GetOpenStep(ctx, sess.ID); gerr == nil {
				return o.stepResponse(sess, assessment, current), nil
			}
			return o.issueStep(ctx, sess, assessment, model, steps)
		}
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	if outcome == troubleshoot.OutcomeDidntWork {
		o.recordOutcomeAsync(sess, openStep, model, false)
	}

	return o.issueStep(ctx, sess, assessment, model, steps)
}

// ─── Step issuance ────────────────────────────────────────────────────────────

func (o *Orchestrator) issueStep(ctx context.Context, sess *db.SessionRecord, assessment *troubleshoot.Assessment, model string, priorRecords []*db.StepRecord) (*types.TurnResponse, error) {
	prior := toDomainSteps(priorRecords)

	proposal, err := o.stepgen.Next(ctx, assessment, model, prior)
	if err != nil {
		return nil, fmt.Errorf("generate step: %w", err)
	}

	if proposal.Escalate {
		if err := o.store.UpdateSessionStatus(ctx, sess.ID, string(troubleshoot.StatusEscalated), sess.Category); err != nil {
			return nil, fmt.Errorf("escalate session: %w", err)
		}
		_ = o.audit.LogSessionEscalated(ctx, sess.ID, proposal.EscalateReason)
		return &types.TurnResponse{
			Kind:      types.KindEscalated,
			SessionID: sess.ID,
			Reason:    proposal.EscalateReason,
		}, nil
	}

	warnings, err := json.Marshal(proposal.SafetyWarnings)
	if err != nil {
		return nil, fmt.Errorf("encode warnings: %w", err)
	}

	step := &db.StepRecord{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		Number:           len(priorRecords) + 1,
		Instruction:      proposal.Instruction,
		SafetyWarnings:   string(warnings),
		Duration:         proposal.Duration,
		RequiresFeedback: true,
		Source:           string(proposal.Source),
		CreatedAt:        time.Now().UTC(),
	}

	if err := o.store.AppendStep(ctx, step); err != nil {
		if errors.Is(err, db.ErrOpenStep) {
			// A concurrent or resubmitted turn already appended: re-present
			// the existing open step instead of erroring.
			current, gerr := o.store.GetOpenStep(ctx, sess.ID)
			if gerr != nil {
				return nil, fmt.Errorf("reload open step: %w", gerr)
			}
			return o.stepResponse(sess, assessment, current), nil
		}
		return nil, fmt.Errorf("append step: %w", err)
	}

	_ = o.audit.LogStepIssued(ctx, sess.ID, step.Number, step.Source)
	metrics.StepsIssued.WithLabelValues(step.Source).Inc()

	return o.stepResponse(sess, assessment, step), nil
}

// ─── Plain chat ───────────────────────────────────────────────────────────────

func (o *Orchestrator) plainChat(ctx context.Context, freeText string) *types.TurnResponse {
	messages := o.prompts.ChatMessages(ctx, freeText, nil)

	out, err := o.gateway.Complete(ctx, &llmtypes.CompletionRequest{Messages: messages})
	if err != nil || strings.TrimSpace(out) == "" {
		_ = o.audit.LogGatewayFallback(ctx, "", err)
		metrics.GatewayFallbacks.Inc()
		o.logger.Warn("plain chat generation failed", zap.Error(err))
		return &types.TurnResponse{Kind: types.KindText, Message: chatFallbackMessage}
	}

	return &types.TurnResponse{Kind: types.KindText, Message: out}
}

// ─── Effectiveness updates ────────────────────────────────────────────────────

// recordOutcomeAsync applies the learning-loop update off the request path.
// A small staleness window is traded for turn latency.
func (o *Orchestrator) recordOutcomeAsync(sess *db.SessionRecord, step *db.StepRecord, model string, succeeded bool) {
	category := troubleshoot.ParseCategory(sess.Category)
	instruction := step.Instruction
	sessionID := sess.ID

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := o.recorder.RecordOutcome(ctx, category, model, instruction, succeeded, false); err != nil {
			o.logger.Error("effectiveness update failed",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		_ = o.audit.LogEffectivenessUpdated(ctx, string(category), model, succeeded)
		metrics.EffectivenessUpdates.WithLabelValues(string(category), fmt.Sprintf("%t", succeeded)).Inc()
	}()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) loadAssessment(sess *db.SessionRecord) *troubleshoot.Assessment {
	if sess.Assessment != "" {
		var assessment troubleshoot.Assessment
		if err := json.Unmarshal([]byte(sess.Assessment), &assessment); err == nil {
			return &assessment
		}
		o.logger.Warn("stored assessment unparseable", zap.String("session_id", sess.ID))
	}
	assessment := troubleshoot.GenericAssessment()
	assessment.Category = troubleshoot.ParseCategory(sess.Category)
	return assessment
}

func (o *Orchestrator) stepResponse(sess *db.SessionRecord, assessment *troubleshoot.Assessment, step *db.StepRecord) *types.TurnResponse {
	return &types.TurnResponse{
		Kind:              types.KindStep,
		SessionID:         sess.ID,
		StepNumber:        step.Number,
		Instruction:       step.Instruction,
		SafetyWarnings:    decodeWarnings(step.SafetyWarnings),
		EstimatedDuration: step.Duration,
		RequiresFeedback:  true,
		Confidence:        string(assessment.Confidence),
	}
}

func (o *Orchestrator) representStep(sess *db.SessionRecord, assessment *troubleshoot.Assessment, step *db.StepRecord, preamble string) *types.TurnResponse {
	resp := o.stepResponse(sess, assessment, step)
	resp.Instruction = preamble + " " + step.Instruction
	return resp
}

func (o *Orchestrator) completionResponse(sess *db.SessionRecord, steps int) *types.TurnResponse {
	return &types.TurnResponse{
		Kind:      types.KindCompleted,
		SessionID: sess.ID,
		Summary: fmt.Sprintf("Problem resolved after %d step(s). The working solution has been recorded to help with future %s issues.",
			steps, sess.Category),
	}
}

func (o *Orchestrator) escalationResponse(sess *db.SessionRecord, steps int) *types.TurnResponse {
	return &types.TurnResponse{
		Kind:      types.KindEscalated,
		SessionID: sess.ID,
		Reason: fmt.Sprintf("%d troubleshooting steps attempted without success; this session has been handed to a human expert.",
			steps),
	}
}

func machineModel(machine *troubleshoot.MachineContext) string {
	if machine == nil {
		return ""
	}
	return machine.Model
}

func toDomainSteps(records []*db.StepRecord) []*troubleshoot.Step {
	steps := make([]*troubleshoot.Step, 0, len(records))
	for _, rec := range records {
		steps = append(steps, &troubleshoot.Step{
			ID:             rec.ID,
			SessionID:      rec.SessionID,
			Number:         rec.Number,
			Instruction:    rec.Instruction,
			SafetyWarnings: decodeWarnings(rec.SafetyWarnings),
			Duration:       rec.Duration,
			Source:         troubleshoot.StepSource(rec.Source),
			Outcome:        troubleshoot.Outcome(rec.Outcome),
			CreatedAt:      rec.CreatedAt,
		})
	}
	return steps
}

func decodeWarnings(raw string) []string {
	if raw == "" {
		return nil
	}
	var warnings []string
	if err := json.Unmarshal([]byte(raw), &warnings); err != nil {
		return nil
	}
	return warnings
}
