// Package orch drives the decision pipeline: dequeue, score, gate,
// dispatch, audit. Every dequeued event ends in exactly one terminal audit
// entry (PROCESSED, DENIED, or FAILED); per-event failures never stop the
// loop. Events touching the same resource are serialized so two decisions
// cannot race on one target.
package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/gate"
	"github.com/archiegate/guardian/internal/metrics"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/queue"
)

// Scorer produces assessments and learns from feedback.
type Scorer interface {
	Analyze(ctx context.Context, ev model.Event) (model.ThreatAssessment, error)
	Learn(fb model.FeedbackRecord)
}

// Gate decides whether an assessment may proceed and brokers escalation.
type Gate interface {
	RequiresEscalation(a model.ThreatAssessment) bool
	Escalate(ctx context.Context, e *gate.Escalation) gate.Resolution
}

// Dispatcher executes approved actions.
type Dispatcher interface {
	Execute(ctx context.Context, eventID string, action model.Action) model.Outcome
}

// Auditor records pipeline decisions. *audit.Log satisfies it.
type Auditor interface {
	Record(kind audit.Kind, detail string) error
}

// Sink optionally persists assessments. Persistence failures are logged by
// the sink itself and never affect the decision.
type Sink interface {
	SaveAssessment(ctx context.Context, ev model.Event, a model.ThreatAssessment)
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Ingested    uint64            `json:"ingested"`
	Processed   uint64            `json:"processed"`
	Denied      uint64            `json:"denied"`
	Failed      uint64            `json:"failed"`
	Escalations uint64            `json:"escalations"`
	Feedback    uint64            `json:"feedback"`
	Dropped     uint64            `json:"dropped"`
	ByLevel     map[string]uint64 `json:"by_level"`
}

// Orchestrator owns the drain loop.
type Orchestrator struct {
	queue      *queue.Queue
	scorer     Scorer
	gate       Gate
	dispatcher Dispatcher
	auditor    Auditor
	metrics    *metrics.Metrics
	sink       Sink

	targets keyedMutex

	mu     sync.Mutex
	stats  Stats
	recent []model.Event

	wg sync.WaitGroup
}

// recentKeep bounds the in-memory history served to the events command.
const recentKeep = 100

// New wires the pipeline. metrics and sink may be nil.
func New(q *queue.Queue, s Scorer, g Gate, d Dispatcher, a Auditor, m *metrics.Metrics, sink Sink) *Orchestrator {
	o := &Orchestrator{
		queue:      q,
		scorer:     s,
		gate:       g,
		dispatcher: d,
		auditor:    a,
		metrics:    m,
		sink:       sink,
	}
	o.stats.ByLevel = map[string]uint64{}
	o.targets.locks = map[string]*lockEntry{}
	return o
}

// Run drains the queue until it is closed. Each event is processed in its
// own goroutine; Run returns after all in-flight events finish.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		ev, ok := o.queue.Dequeue()
		if !ok {
			break
		}
		o.wg.Add(1)
		go func(ev model.Event) {
			defer o.wg.Done()
			o.process(ctx, ev)
		}(ev)
	}
	o.wg.Wait()
}

// process walks one event through the pipeline and always lands on exactly
// one terminal audit entry.
func (o *Orchestrator) process(ctx context.Context, ev model.Event) {
	o.record(audit.KindEventReceived, fmt.Sprintf("%s from %s type=%s", ev.ID, ev.Source, ev.Type))
	o.bumpIngested()
	o.remember(ev)
	if o.metrics != nil {
		o.metrics.EventsTotal.Inc()
	}

	assessment, err := o.scorer.Analyze(ctx, ev)
	if err != nil {
		o.terminalFailed(ev.ID, fmt.Sprintf("scoring: %v", err))
		if o.metrics != nil {
			o.metrics.EventsInvalid.Inc()
		}
		return
	}

	detail := fmt.Sprintf("%s score=%d level=%s", ev.ID, assessment.Score, assessment.Level)
	if assessment.Degraded {
		detail += " degraded=true"
	}
	o.record(audit.KindAssessment, detail)
	o.bumpLevel(assessment.Level)
	if o.metrics != nil {
		o.metrics.Assessments.WithLabelValues(string(assessment.Level)).Inc()
	}
	if o.sink != nil {
		o.sink.SaveAssessment(ctx, ev, assessment)
	}

	action := assessment.RecommendedAction
	if action == nil {
		o.terminalProcessed(ev.ID)
		return
	}

	// Serialize decisions per resource so a kill and a quarantine of the
	// same target cannot interleave.
	unlock := o.targets.lock(action.Target)
	defer unlock()

	if o.gate.RequiresEscalation(assessment) {
		o.bumpEscalations()
		res := o.gate.Escalate(ctx, &gate.Escalation{
			EventID:   ev.ID,
			Action:    *action,
			Score:     assessment.Score,
			Level:     assessment.Level,
			Rationale: assessment.Rationale,
		})
		if o.metrics != nil {
			o.metrics.Escalations.WithLabelValues(string(res)).Inc()
		}
		if !res.Granted() {
			o.terminalDenied(ev.ID, fmt.Sprintf("%s %s %s", action.Kind, action.Target, res))
			return
		}
	}

	outcome := o.dispatcher.Execute(ctx, ev.ID, *action)
	if outcome.Status != model.OutcomeSuccess {
		if o.metrics != nil {
			o.metrics.DispatchFailures.Inc()
		}
		o.terminalFailed(ev.ID, fmt.Sprintf("%s %s: %s", action.Kind, action.Target, outcome.Reason))
		return
	}
	o.terminalProcessed(ev.ID)
}

// SubmitFeedback records operator feedback and forwards it to the scorer.
func (o *Orchestrator) SubmitFeedback(fb model.FeedbackRecord) error {
	if _, err := model.ParseVerdict(string(fb.Verdict)); err != nil {
		return err
	}
	o.record(audit.KindUserFeedback, fmt.Sprintf("%s %s", fb.EventID, fb.Verdict))
	o.scorer.Learn(fb)

	o.mu.Lock()
	o.stats.Feedback++
	o.mu.Unlock()
	return nil
}

// Stats returns a snapshot of pipeline counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.stats
	out.Dropped = o.queue.Dropped()
	out.ByLevel = make(map[string]uint64, len(o.stats.ByLevel))
	for k, v := range o.stats.ByLevel {
		out.ByLevel[k] = v
	}
	return out
}

func (o *Orchestrator) terminalProcessed(eventID string) {
	o.record(audit.KindProcessed, eventID)
	o.mu.Lock()
	o.stats.Processed++
	o.mu.Unlock()
}

func (o *Orchestrator) terminalDenied(eventID, detail string) {
	o.record(audit.KindDenied, eventID+" "+detail)
	o.mu.Lock()
	o.stats.Denied++
	o.mu.Unlock()
}

func (o *Orchestrator) terminalFailed(eventID, detail string) {
	o.record(audit.KindFailed, eventID+" "+detail)
	o.mu.Lock()
	o.stats.Failed++
	o.mu.Unlock()
}

func (o *Orchestrator) bumpIngested() {
	o.mu.Lock()
	o.stats.Ingested++
	o.mu.Unlock()
}

// Recent returns up to n most recently ingested events, newest first.
func (o *Orchestrator) Recent(n int) []model.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n > len(o.recent) {
		n = len(o.recent)
	}
	out := make([]model.Event, n)
	for i := 0; i < n; i++ {
		out[i] = o.recent[len(o.recent)-1-i]
	}
	return out
}

func (o *Orchestrator) remember(ev model.Event) {
	o.mu.Lock()
	o.recent = append(o.recent, ev)
	if len(o.recent) > recentKeep {
		o.recent = o.recent[len(o.recent)-recentKeep:]
	}
	o.mu.Unlock()
}

func (o *Orchestrator) bumpEscalations() {
	o.mu.Lock()
	o.stats.Escalations++
	o.mu.Unlock()
}

func (o *Orchestrator) bumpLevel(level model.ThreatLevel) {
	o.mu.Lock()
	o.stats.ByLevel[string(level)]++
	o.mu.Unlock()
}

func (o *Orchestrator) record(kind audit.Kind, detail string) {
	if o.auditor != nil {
		_ = o.auditor.Record(kind, detail)
	}
}

// keyedMutex serializes work per string key. Entries are reference-counted
// and removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
