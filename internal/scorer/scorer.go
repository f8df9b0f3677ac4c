// Package scorer turns sensor events into threat assessments. Scoring is
// deterministic heuristics over an immutable weight snapshot, optionally
// sharpened by the oracle. Feedback adjusts future snapshots; assessments
// already issued are never rewritten.
package scorer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/oracle"
)

// Oracle is the external scoring backend. Nil disables consultation.
type Oracle interface {
	Score(ctx context.Context, ev model.Event, recent []model.Event) (oracle.Result, error)
}

const (
	seenProcessCap = 4096
	recentKeep     = 5

	biasStep = 10
	biasMin  = -50
	biasMax  = 50
)

// snapshot is one immutable generation of the weight table. Learn replaces
// the whole snapshot; Analyze reads whichever generation was current when it
// started.
type snapshot struct {
	weights config.Scoring
	bias    map[string]int // "source/type" -> learned adjustment
}

// Scorer assesses events. Safe for concurrent use.
type Scorer struct {
	snap   atomic.Pointer[snapshot]
	oracle Oracle
	seen   *lru.Cache[string, struct{}]

	mu     sync.Mutex
	recent []model.Event
}

// New creates a scorer with the given weights. o may be nil.
func New(w config.Scoring, o Oracle) *Scorer {
	seen, _ := lru.New[string, struct{}](seenProcessCap)
	s := &Scorer{oracle: o, seen: seen}
	s.snap.Store(&snapshot{weights: w, bias: map[string]int{}})
	return s
}

// Analyze scores one event. Oracle failure degrades to heuristics only and
// is recorded in the assessment, never returned as an error.
func (s *Scorer) Analyze(ctx context.Context, ev model.Event) (model.ThreatAssessment, error) {
	if err := ev.Validate(); err != nil {
		return model.ThreatAssessment{}, fmt.Errorf("scorer: %w", err)
	}

	snap := s.snap.Load()
	score, rationale := s.heuristicScore(snap, ev)

	if adj, ok := snap.bias[biasKey(ev.Source, ev.Type)]; ok && adj != 0 {
		score += adj
		rationale = append(rationale, fmt.Sprintf("learned adjustment %+d for %s/%s", adj, ev.Source, ev.Type))
	}

	degraded := false
	if s.oracle != nil {
		res, err := s.oracle.Score(ctx, ev, s.recentEvents())
		if err != nil {
			degraded = true
			rationale = append(rationale, "oracle degraded: "+err.Error())
		} else {
			// The higher signal wins; the oracle can raise suspicion the
			// heuristics missed but cannot silence a heuristic hit.
			if res.Score > score {
				score = res.Score
			}
			if res.Rationale != "" {
				rationale = append(rationale, "oracle: "+res.Rationale)
			}
		}
	}

	score = clamp(score)
	level := levelFor(snap.weights, score)

	a := model.ThreatAssessment{
		EventID:           ev.ID,
		Score:             score,
		Level:             level,
		Rationale:         rationale,
		RecommendedAction: recommendAction(ev, level),
		Degraded:          degraded,
	}
	s.remember(ev)
	return a, nil
}

// Learn folds one feedback record into the next weight snapshot.
// Copy-and-swap: concurrent Analyze calls see either the old table or the
// new one, never a mix.
func (s *Scorer) Learn(fb model.FeedbackRecord) {
	step := 0
	switch fb.Verdict {
	case model.VerdictFalsePositive:
		step = -biasStep
	case model.VerdictConfirmedThreat:
		step = biasStep
	case model.VerdictMissedDetails:
		step = biasStep / 2
	default:
		return
	}

	for {
		old := s.snap.Load()
		next := &snapshot{
			weights: old.weights,
			bias:    make(map[string]int, len(old.bias)+1),
		}
		for k, v := range old.bias {
			next.bias[k] = v
		}
		key := biasKey(fb.Source, fb.Type)
		next.bias[key] = clampBias(next.bias[key] + step)
		if s.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// Bias returns the learned adjustment for a source/type pair.
func (s *Scorer) Bias(source, eventType string) int {
	return s.snap.Load().bias[biasKey(source, eventType)]
}

func (s *Scorer) heuristicScore(snap *snapshot, ev model.Event) (int, []string) {
	w := snap.weights
	score := w.Baseline
	rationale := []string{fmt.Sprintf("baseline %s event", ev.Source)}

	switch ev.Source {
	case model.SourceFileIntegrity:
		path := ev.Payload["path"]
		switch {
		case hasPrefixAny(path, w.CriticalPathPrefixes):
			score += w.CriticalPath
			rationale = append(rationale, "change under critical path "+path)
		case hasPrefixAny(path, w.SensitivePathPrefixes):
			score += w.SensitivePath
			rationale = append(rationale, "change under sensitive path "+path)
		}

	case model.SourceProcessMonitor:
		name := ev.Payload["name"]
		if containsAny(name, w.SuspiciousBinaries) {
			// A match is the score; the baseline applies only to spawns
			// that hit nothing.
			score = w.SuspiciousBinary
			rationale = []string{"suspicious binary " + name}
		}

	case model.SourceNetworkSniffer:
		proc := ev.Payload["process"]
		if proc != "" {
			if _, known := s.seen.Get(proc); !known {
				s.seen.Add(proc, struct{}{})
				score += w.UnseenOutbound
				rationale = append(rationale, "first outbound connection from "+proc)
			}
		}
		if remote := ev.Payload["remote_address"]; hasPrefixAny(remote, w.SafeDestinations) {
			score += w.SafeDestination
			rationale = append(rationale, "destination "+remote+" is on the safe list")
		}

	case model.SourceScanEngine:
		if sig := ev.Payload["signature"]; sig != "" {
			score += w.SuspiciousBinary
			rationale = append(rationale, "scan engine matched signature "+sig)
		}
	}

	return score, rationale
}

// recommendAction maps a level and source to the response the dispatcher
// would take if permitted. Low threats get none.
func recommendAction(ev model.Event, level model.ThreatLevel) *model.Action {
	switch level {
	case model.LevelHigh:
		switch ev.Source {
		case model.SourceProcessMonitor:
			if pid := ev.Payload["pid"]; pid != "" {
				return &model.Action{Kind: model.ActionKillProcess, Target: "pid:" + pid}
			}
		case model.SourceFileIntegrity, model.SourceScanEngine:
			if path := ev.Payload["path"]; path != "" {
				return &model.Action{Kind: model.ActionQuarantineFile, Target: path}
			}
		case model.SourceNetworkSniffer:
			if remote := ev.Payload["remote_address"]; remote != "" {
				return &model.Action{Kind: model.ActionBlockConnection, Target: remote}
			}
		}
		return &model.Action{Kind: model.ActionLogAlert, Target: ev.Target()}
	case model.LevelMedium:
		return &model.Action{Kind: model.ActionLogAlert, Target: ev.Target()}
	}
	return nil
}

func (s *Scorer) remember(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > recentKeep {
		s.recent = s.recent[len(s.recent)-recentKeep:]
	}
}

func (s *Scorer) recentEvents() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.recent))
	copy(out, s.recent)
	return out
}

func levelFor(w config.Scoring, score int) model.ThreatLevel {
	switch {
	case score >= w.HighMin:
		return model.LevelHigh
	case score >= w.MediumMin:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func biasKey(source, eventType string) string {
	return source + "/" + eventType
}

func hasPrefixAny(s string, prefixes []string) bool {
	if s == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clampBias(b int) int {
	if b < biasMin {
		return biasMin
	}
	if b > biasMax {
		return biasMax
	}
	return b
}
