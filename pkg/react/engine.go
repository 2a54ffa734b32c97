// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package react runs the reason-plan-execute-evaluate loop.
//
// The engine is the single writer of a session while a request is in
// flight. It walks the state machine Idle -> Reasoning -> Planning ->
// [AwaitingConfirmation] -> Executing -> Evaluating, looping back
// through Replanning when evaluation asks for it, and persists the
// session on every transition. Output is a lazy update stream consumed
// by the service.
package react

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/stewardai/steward/pkg/confirm"
	"github.com/stewardai/steward/pkg/config"
	"github.com/stewardai/steward/pkg/model"
	"github.com/stewardai/steward/pkg/planner"
	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/task"
	"github.com/stewardai/steward/pkg/tool"
)

// Error categories attached to error updates produced by the engine.
const (
	CategoryPlanning       = "PlanningError"
	CategoryCancelled      = "Cancelled"
	CategoryReplanLimit    = "ReplanLimitExceeded"
	CategoryExecution      = "ExecutionError"
	CategoryInternal       = "InternalError"
	CategoryConfirmDenied  = "ConfirmationDenied"
	CategoryConfirmTimeout = "ConfirmationTimeout"
)

// Engine drives sessions through the loop.
type Engine struct {
	planner     *planner.Planner
	provider    model.Provider
	registry    *tool.Registry
	coordinator *confirm.Coordinator
	store       session.Store
	cfg         config.React
	log         *slog.Logger
}

// New wires an engine.
func New(p *planner.Planner, provider model.Provider, registry *tool.Registry, coordinator *confirm.Coordinator, store session.Store, cfg config.React) *Engine {
	return &Engine{
		planner:     p,
		provider:    provider,
		registry:    registry,
		coordinator: coordinator,
		store:       store,
		cfg:         cfg,
		log:         slog.Default().With("component", "react"),
	}
}

// Coordinator exposes the confirmation coordinator so drivers can
// submit verdicts.
func (e *Engine) Coordinator() *confirm.Coordinator { return e.coordinator }

// emitter couples update emission with consumer backpressure: emit
// returns false once the consumer stops pulling.
type emitter struct {
	yield func(*Update, error) bool
	dead  bool
}

func (em *emitter) emit(u *Update) bool {
	if em.dead {
		return false
	}
	if !em.yield(u, nil) {
		em.dead = true
	}
	return !em.dead
}

// Run processes the session's input and yields the update stream. The
// session must be in Idle or a terminal state; terminal sessions are
// resumed with fresh per-request state.
func (e *Engine) Run(ctx context.Context, sess *session.Session) iter.Seq2[*Update, error] {
	return func(yield func(*Update, error) bool) {
		em := &emitter{yield: yield}
		defer e.coordinator.Clear(sess.ID)

		if err := e.run(ctx, sess, em); err != nil {
			e.fail(sess, em, err)
		}
	}
}

// engineErr pairs an error with its category for the failure path.
type engineErr struct {
	category string
	err      error
}

func (e *engineErr) Error() string { return e.err.Error() }

func failf(category, format string, args ...any) *engineErr {
	return &engineErr{category: category, err: fmt.Errorf(format, args...)}
}

// fail transitions the session to Failed and emits the error update.
func (e *Engine) fail(sess *session.Session, em *emitter, err error) {
	category := CategoryInternal
	var ee *engineErr
	if errors.As(err, &ee) {
		category = ee.category
	}
	var pe *planner.Error
	if errors.As(err, &pe) {
		category = CategoryPlanning
	}

	e.log.Warn("session failed", "session", sess.ID, "category", category, "error", err)
	sess.Transition(session.StateFailed)
	e.persist(sess)
	em.emit(errorUpdate(category, err.Error()))
}

func (e *Engine) persist(sess *session.Session) {
	if err := e.store.Save(sess); err != nil {
		e.log.Error("session persistence failed", "session", sess.ID, "error", err)
	}
}

// run is the state machine body. Returning nil means the session ended
// in Completed (or the consumer went away).
func (e *Engine) run(ctx context.Context, sess *session.Session, em *emitter) error {
	sess.Transition(session.StateReasoning)
	e.persist(sess)
	if !em.emit(statusUpdate("Thinking...")) {
		return nil
	}

	notes := ""
	for {
		// Planning phase.
		sess.Transition(session.StatePlanning)
		e.persist(sess)

		result, err := e.planner.Plan(ctx, sess.Input, sess.History, notes)
		if err != nil {
			return err
		}

		if result.Conversational {
			sess.Transition(session.StateCompleted)
			e.persist(sess)
			if !em.emit(&Update{Kind: UpdateConversational, Text: result.Response}) {
				return nil
			}
			em.emit(&Update{Kind: UpdateFinalResult, Text: result.Response})
			return nil
		}

		plan := result.Plan
		sess.Plan = plan
		sess.Append(fmt.Sprintf("planned %d tasks", len(plan.Tasks)))
		e.persist(sess)
		if !em.emit(taskPlanUpdate(plan, sess.ReplanCount > 0)) {
			return nil
		}

		// Confirmation phase.
		verdict, err := e.confirmPlan(ctx, sess, plan, em)
		if err != nil {
			return err
		}
		switch verdict.outcome {
		case confirmProceed:
		case confirmStopped:
			return nil
		case confirmReplan:
			notes = verdict.notes
			continue
		}

		// Execution phase.
		outcome, err := e.executePlan(ctx, sess, plan, em)
		if err != nil {
			return err
		}
		switch outcome.kind {
		case planDone:
		case planStopped:
			return nil
		case planAborted:
			return failf(CategoryExecution, "%s", outcome.notes)
		case planReplan:
			sess.ReplanCount++
			if sess.ReplanCount > e.cfg.MaxReplans {
				return failf(CategoryReplanLimit,
					"replan limit of %d exceeded", e.cfg.MaxReplans)
			}
			sess.Transition(session.StateReplanning)
			e.persist(sess)
			if !em.emit(statusUpdate(fmt.Sprintf("Replanning (round %d)...", sess.ReplanCount))) {
				return nil
			}
			notes = outcome.notes
			continue
		}

		// Overall evaluation.
		sess.Transition(session.StateEvaluating)
		e.persist(sess)
		final := e.finalResult(ctx, sess, plan)

		sess.Transition(session.StateCompleted)
		e.persist(sess)
		em.emit(&Update{
			Kind: UpdateFinalResult,
			Text: final,
			Metadata: map[string]any{
				"tasks":   len(plan.Tasks),
				"replans": sess.ReplanCount,
			},
		})
		return nil
	}
}

// confirmation outcomes
type confirmOutcome int

const (
	confirmProceed confirmOutcome = iota
	confirmStopped
	confirmReplan
)

type confirmVerdict struct {
	outcome confirmOutcome
	notes   string
}

// confirmPlan runs the human-in-the-loop gate, including modify
// rounds. Timeouts and cancels fail the session.
func (e *Engine) confirmPlan(ctx context.Context, sess *session.Session, plan *task.Plan, em *emitter) (confirmVerdict, error) {
	if !e.cfg.ConfirmByHuman {
		return confirmVerdict{outcome: confirmProceed}, nil
	}
	if e.cfg.AutoConfirmSafeTasks && !plan.AnyDangerous() {
		sess.Append("auto-confirmed: no dangerous tasks")
		return confirmVerdict{outcome: confirmProceed}, nil
	}

	for {
		sess.Transition(session.StateAwaitingConfirmation)
		e.persist(sess)

		rec, err := e.coordinator.Request(sess.ID, plan, e.timeout())
		if err != nil {
			return confirmVerdict{}, failf(CategoryInternal, "requesting confirmation: %v", err)
		}

		risk := "low"
		if plan.AnyDangerous() {
			risk = "high"
		}
		if !em.emit(&Update{
			Kind: UpdateConfirmationRequest,
			Confirmation: &ConfirmationRequest{
				SessionID:      sess.ID,
				TasksSummary:   plan.Summary(),
				TimeoutSeconds: e.cfg.ConfirmationTimeoutSeconds,
				Round:          rec.Round,
				RiskLevel:      risk,
			},
		}) {
			return confirmVerdict{outcome: confirmStopped}, nil
		}

		resp, err := e.coordinator.Wait(ctx, sess.ID)
		if err != nil {
			if errors.Is(err, confirm.ErrTimedOut) {
				em.emit(&Update{Kind: UpdateConfirmationReceived, Action: "timeout"})
				return confirmVerdict{}, failf(CategoryConfirmTimeout, "confirmation timed out")
			}
			return confirmVerdict{}, failf(CategoryCancelled, "confirmation aborted: %v", err)
		}

		if !em.emit(&Update{Kind: UpdateConfirmationReceived, Action: string(resp.Action)}) {
			return confirmVerdict{outcome: confirmStopped}, nil
		}

		switch resp.Action {
		case confirm.ActionConfirm:
			return confirmVerdict{outcome: confirmProceed}, nil

		case confirm.ActionCancel:
			return confirmVerdict{}, failf(CategoryConfirmDenied, "plan cancelled by user")

		case confirm.ActionModify:
			if !e.cfg.AllowTaskModification {
				return confirmVerdict{}, failf(CategoryConfirmDenied,
					"task modification is disabled by configuration")
			}
			if resp.FreeText != "" {
				// Prose instructions go back through planning.
				return confirmVerdict{outcome: confirmReplan, notes: resp.FreeText}, nil
			}
			if len(resp.ModifiedTasks) == 0 {
				// A modification that removes every task is a cancel.
				return confirmVerdict{}, failf(CategoryConfirmDenied,
					"modification removed all tasks")
			}

			plan.Tasks = resp.ModifiedTasks
			if err := plan.Validate(); err != nil {
				return confirmVerdict{}, failf(CategoryPlanning, "modified plan invalid: %v", err)
			}
			sess.Plan = plan
			sess.Append(fmt.Sprintf("plan modified by user, %d tasks", len(plan.Tasks)))
			e.persist(sess)
			if !em.emit(taskPlanUpdate(plan, true)) {
				return confirmVerdict{outcome: confirmStopped}, nil
			}
			// Re-enter confirmation with the modified plan.
			continue

		default:
			return confirmVerdict{}, failf(CategoryInternal, "unknown confirmation action %q", resp.Action)
		}
	}
}

func (e *Engine) timeout() time.Duration {
	return time.Duration(e.cfg.ConfirmationTimeoutSeconds) * time.Second
}
