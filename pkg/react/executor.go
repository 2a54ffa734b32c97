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

package react

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stewardai/steward/pkg/session"
	"github.com/stewardai/steward/pkg/task"
	"github.com/stewardai/steward/pkg/tool"
)

// plan outcomes
type planOutcomeKind int

const (
	planDone planOutcomeKind = iota
	planStopped
	planReplan
	planAborted
)

type planOutcome struct {
	kind  planOutcomeKind
	notes string
}

// executePlan runs the plan's tasks in topological order, evaluating
// after each. Dependency-free read-only tasks at the head of the order
// run as one parallel batch; everything else is strictly sequential.
func (e *Engine) executePlan(ctx context.Context, sess *session.Session, plan *task.Plan, em *emitter) (planOutcome, error) {
	sess.Transition(session.StateExecuting)
	e.persist(sess)
	if !em.emit(taskInitUpdate(plan)) {
		return planOutcome{kind: planStopped}, nil
	}

	order, err := plan.TopologicalOrder()
	if err != nil {
		return planOutcome{}, failf(CategoryPlanning, "ordering tasks: %v", err)
	}

	parallel, rest := splitParallelBatch(order, e.registry)
	if len(parallel) > 1 {
		if stopped := e.runParallelBatch(ctx, sess, parallel, em); stopped {
			return planOutcome{kind: planStopped}, nil
		}
		// Batch tasks were read-only probes; their failures surface
		// through evaluation of the batch results below.
		for _, t := range parallel {
			verdict := e.evaluateTask(ctx, sess, t)
			if verdict.action == verdictRetrySame {
				// Batch members are not individually re-run.
				verdict = taskVerdict{action: verdictReplan, notes: verdict.notes}
			}
			if out, done := e.applyVerdict(sess, t, verdict); done {
				return out, nil
			}
		}
	} else {
		rest = order
	}

	for _, t := range rest {
		retries := 0
	retry:
		if stopped := e.runTask(ctx, sess, t, em); stopped {
			return planOutcome{kind: planStopped}, nil
		}

		verdict := e.evaluateTask(ctx, sess, t)
		if verdict.action == verdictRetrySame {
			if retries < e.cfg.MaxTaskRetries {
				retries++
				sess.Append(fmt.Sprintf("retrying task %s (%d/%d)", t.ID, retries, e.cfg.MaxTaskRetries))
				e.persist(sess)
				if !em.emit(statusUpdate(fmt.Sprintf("Retrying %s...", t.ID))) {
					return planOutcome{kind: planStopped}, nil
				}
				goto retry
			}
			// Retries exhausted; escalate to replan.
			verdict = taskVerdict{action: verdictReplan, notes: verdict.notes}
		}
		if out, done := e.applyVerdict(sess, t, verdict); done {
			return out, nil
		}
	}

	return planOutcome{kind: planDone}, nil
}

// applyVerdict folds an evaluation verdict into the plan outcome.
// done=true short-circuits execution.
func (e *Engine) applyVerdict(sess *session.Session, t *task.Task, v taskVerdict) (planOutcome, bool) {
	switch v.action {
	case verdictReplan:
		sess.Append(fmt.Sprintf("task %s triggered replan: %s", t.ID, v.notes))
		return planOutcome{kind: planReplan, notes: v.notes}, true
	case verdictAbort:
		return planOutcome{
			kind:  planAborted,
			notes: fmt.Sprintf("task %s failed: %s", t.ID, v.notes),
		}, true
	default:
		return planOutcome{}, false
	}
}

// runTask executes one task and records its terminal outcome. Returns
// true when the consumer stopped pulling updates.
func (e *Engine) runTask(ctx context.Context, sess *session.Session, t *task.Task, em *emitter) bool {
	t.Status = task.StatusRunning
	if !em.emit(toolExecutionUpdate(t)) {
		return true
	}

	result := e.callTool(ctx, t, func(payload any) bool {
		return em.emit(toolProgressUpdate(t.ID, payload))
	})
	e.finishTask(sess, t, result)

	outcome := result.Output
	if !result.Succeeded() {
		outcome = result.Error
	}
	return !em.emit(subTaskResultUpdate(t.ID, outcome))
}

// runParallelBatch executes dependency-free read-only tasks
// concurrently. Updates for each task are buffered and emitted after
// the batch so the stream stays ordered.
func (e *Engine) runParallelBatch(ctx context.Context, sess *session.Session, batch []*task.Task, em *emitter) bool {
	type taskRun struct {
		t        *task.Task
		result   session.TaskResult
		progress []any
	}

	runs := make([]*taskRun, len(batch))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range batch {
		runs[i] = &taskRun{t: t}
		run := runs[i]
		t.Status = task.StatusRunning
		g.Go(func() error {
			result := e.callTool(gctx, run.t, func(payload any) bool {
				mu.Lock()
				run.progress = append(run.progress, payload)
				mu.Unlock()
				return true
			})
			mu.Lock()
			run.result = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, run := range runs {
		if !em.emit(toolExecutionUpdate(run.t)) {
			return true
		}
		for _, p := range run.progress {
			if !em.emit(toolProgressUpdate(run.t.ID, p)) {
				return true
			}
		}
		e.finishTask(sess, run.t, run.result)
		outcome := run.result.Output
		if !run.result.Succeeded() {
			outcome = run.result.Error
		}
		if !em.emit(subTaskResultUpdate(run.t.ID, outcome)) {
			return true
		}
	}
	return false
}

// finishTask stamps the task and appends its result to the session.
func (e *Engine) finishTask(sess *session.Session, t *task.Task, result session.TaskResult) {
	now := time.Now()
	t.CompletedAt = &now
	if result.Succeeded() {
		t.Status = task.StatusSucceeded
	} else {
		t.Status = task.StatusFailed
	}
	sess.Record(result)
	sess.Append(fmt.Sprintf("task %s: %s", t.ID, t.Status))
	e.persist(sess)
}

// callTool resolves and invokes the task's tool, collecting the chunk
// stream into a terminal result. onProgress returning false abandons
// the stream.
func (e *Engine) callTool(ctx context.Context, t *task.Task, onProgress func(any) bool) session.TaskResult {
	result := session.TaskResult{TaskID: t.ID}

	tl, err := e.registry.Resolve(t.Tool)
	if err != nil {
		result.Error = err.Error()
		result.Category = tool.CategoryToolNotFound
		return result
	}

	start := time.Now()
	for chunk, err := range tl.Call(ctx, t.Args) {
		if err != nil {
			result.Error = err.Error()
			result.Category = tool.CategoryToolExecution
			break
		}
		switch chunk.Kind {
		case tool.KindProgress:
			payload := chunk.Payload
			if payload == nil {
				payload = chunk.Status
			}
			if !onProgress(payload) {
				result.Error = "progress stream abandoned"
				result.Category = tool.CategoryToolExecution
				return result
			}
		case tool.KindSuccess:
			result.Output = chunk.Output
		case tool.KindError:
			result.Error = chunk.ErrMessage
			result.Category = chunk.ErrCategory
		}
		if chunk.Terminal() {
			break
		}
	}
	result.Duration = time.Since(start)
	return result
}

// splitParallelBatch separates the head-of-order tasks eligible for
// concurrent execution: no dependencies and a read-only tool.
// Concurrency is opt-in; anything ambiguous stays sequential.
func splitParallelBatch(order []*task.Task, registry *tool.Registry) (parallel, rest []*task.Task) {
	for i, t := range order {
		if len(t.Dependencies) != 0 {
			return parallel, order[i:]
		}
		desc, err := registry.Describe(t.Tool)
		if err != nil || !desc.Caps.ReadOnly {
			return parallel, order[i:]
		}
		parallel = append(parallel, t)
	}
	return parallel, nil
}
