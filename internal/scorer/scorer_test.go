package scorer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/oracle"
)

type fakeOracle struct {
	res oracle.Result
	err error
}

func (f *fakeOracle) Score(context.Context, model.Event, []model.Event) (oracle.Result, error) {
	return f.res, f.err
}

func weights() config.Scoring {
	return config.Default().Scoring
}

func processEvent(name, pid string) model.Event {
	return model.Event{
		ID:        "ev-" + name,
		Source:    model.SourceProcessMonitor,
		Type:      "process_spawn",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"name": name, "pid": pid},
	}
}

func fileEvent(path string) model.Event {
	return model.Event{
		ID:        "ev-" + path,
		Source:    model.SourceFileIntegrity,
		Type:      "file_modified",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"path": path},
	}
}

func netEvent(id, proc, remote string) model.Event {
	return model.Event{
		ID:        id,
		Source:    model.SourceNetworkSniffer,
		Type:      "outbound_connection",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"process": proc, "remote_address": remote},
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	ev := fileEvent("/etc/passwd")
	s1 := New(weights(), nil)
	s2 := New(weights(), nil)

	a1, err := s1.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := s2.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Score != a2.Score || a1.Level != a2.Level {
		t.Errorf("same event scored differently: %d/%s vs %d/%s", a1.Score, a1.Level, a2.Score, a2.Level)
	}
}

func TestSuspiciousBinaryGradesMedium(t *testing.T) {
	s := New(weights(), nil)
	a, err := s.Analyze(context.Background(), processEvent("powershell.exe", "4242"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Score < 65 {
		t.Errorf("Score = %d, want >= 65", a.Score)
	}
	// The match alone does not clear the high boundary; the baseline must
	// not stack on top and tip it over.
	if a.Level != model.LevelMedium {
		t.Errorf("Level = %s (score %d), want medium", a.Level, a.Score)
	}
}

func TestBenignProcessIsLow(t *testing.T) {
	s := New(weights(), nil)
	a, err := s.Analyze(context.Background(), processEvent("vim", "100"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Level != model.LevelLow {
		t.Errorf("Level = %s (score %d), want low", a.Level, a.Score)
	}
	if a.RecommendedAction != nil {
		t.Errorf("low threat got action %+v", a.RecommendedAction)
	}
}

func TestCriticalPathBeatsSensitivePath(t *testing.T) {
	s := New(weights(), nil)
	crit, err := s.Analyze(context.Background(), fileEvent("/etc/shadow"))
	if err != nil {
		t.Fatal(err)
	}
	sens, err := s.Analyze(context.Background(), fileEvent("/home/alice/.bashrc"))
	if err != nil {
		t.Fatal(err)
	}
	if crit.Score <= sens.Score {
		t.Errorf("critical path score %d not above sensitive path score %d", crit.Score, sens.Score)
	}
}

func TestUnseenOutboundScoredOnce(t *testing.T) {
	s := New(weights(), nil)
	first, err := s.Analyze(context.Background(), netEvent("ev-1", "dropper", "203.0.113.9"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Analyze(context.Background(), netEvent("ev-2", "dropper", "203.0.113.9"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Score <= second.Score {
		t.Errorf("first sighting %d should outscore repeat %d", first.Score, second.Score)
	}
}

func TestSafeDestinationLowersScore(t *testing.T) {
	s := New(weights(), nil)
	// Prime the seen set so neither event gets the unseen bonus.
	if _, err := s.Analyze(context.Background(), netEvent("ev-0", "curl", "203.0.113.9")); err != nil {
		t.Fatal(err)
	}
	external, err := s.Analyze(context.Background(), netEvent("ev-1", "curl", "203.0.113.9"))
	if err != nil {
		t.Fatal(err)
	}
	local, err := s.Analyze(context.Background(), netEvent("ev-2", "curl", "127.0.0.1:443"))
	if err != nil {
		t.Fatal(err)
	}
	if local.Score >= external.Score {
		t.Errorf("safe destination %d not below external %d", local.Score, external.Score)
	}
}

func TestLevelBoundaries(t *testing.T) {
	w := weights()
	tests := []struct {
		score int
		want  model.ThreatLevel
	}{
		{0, model.LevelLow},
		{39, model.LevelLow},
		{40, model.LevelMedium},
		{74, model.LevelMedium},
		{75, model.LevelHigh},
		{100, model.LevelHigh},
	}
	for _, tt := range tests {
		if got := levelFor(w, tt.score); got != tt.want {
			t.Errorf("levelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestOracleDegradationIsNotFatal(t *testing.T) {
	s := New(weights(), &fakeOracle{err: errors.New("connection refused")})
	a, err := s.Analyze(context.Background(), processEvent("vim", "100"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !a.Degraded {
		t.Error("Degraded = false after oracle failure")
	}
	found := false
	for _, r := range a.Rationale {
		if strings.HasPrefix(r, "oracle degraded:") {
			found = true
		}
	}
	if !found {
		t.Errorf("rationale missing degradation marker: %v", a.Rationale)
	}
}

func TestOracleCanRaiseButNotSilence(t *testing.T) {
	raise := New(weights(), &fakeOracle{res: oracle.Result{Score: 95, Rationale: "beacon pattern"}})
	a, err := raise.Analyze(context.Background(), processEvent("vim", "100"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != 95 {
		t.Errorf("Score = %d, want oracle's 95", a.Score)
	}

	silence := New(weights(), &fakeOracle{res: oracle.Result{Score: 5, Rationale: "looks fine"}})
	b, err := silence.Analyze(context.Background(), processEvent("powershell.exe", "4242"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Score < 65 {
		t.Errorf("oracle lowered heuristic score to %d", b.Score)
	}
}

func TestLearnFalsePositiveLowersFutureScores(t *testing.T) {
	s := New(weights(), nil)
	ev := fileEvent("/home/alice/notes.txt")

	before, err := s.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}

	fb := model.FeedbackRecord{
		EventID: ev.ID,
		Source:  ev.Source,
		Type:    ev.Type,
		Verdict: model.VerdictFalsePositive,
	}
	s.Learn(fb)
	s.Learn(fb)

	after, err := s.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if after.Score >= before.Score {
		t.Errorf("score after false positive feedback %d, want below %d", after.Score, before.Score)
	}
	if got := s.Bias(ev.Source, ev.Type); got != -20 {
		t.Errorf("Bias = %d, want -20", got)
	}
}

func TestLearnConfirmedThreatRaisesFutureScores(t *testing.T) {
	s := New(weights(), nil)
	ev := processEvent("updater", "77")

	before, err := s.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}

	s.Learn(model.FeedbackRecord{
		EventID: ev.ID,
		Source:  ev.Source,
		Type:    ev.Type,
		Verdict: model.VerdictConfirmedThreat,
	})

	after, err := s.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if after.Score <= before.Score {
		t.Errorf("score after confirmed threat %d, want above %d", after.Score, before.Score)
	}
}

func TestLearnBiasIsClamped(t *testing.T) {
	s := New(weights(), nil)
	fb := model.FeedbackRecord{
		Source:  model.SourceFileIntegrity,
		Type:    "file_modified",
		Verdict: model.VerdictFalsePositive,
	}
	for i := 0; i < 20; i++ {
		s.Learn(fb)
	}
	if got := s.Bias(fb.Source, fb.Type); got != -50 {
		t.Errorf("Bias = %d, want clamp at -50", got)
	}
}

func TestHighProcessThreatRecommendsKill(t *testing.T) {
	s := New(weights(), &fakeOracle{res: oracle.Result{Score: 92, Rationale: "credential dumper"}})
	a, err := s.Analyze(context.Background(), processEvent("mimikatz", "4242"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Level != model.LevelHigh {
		t.Fatalf("Level = %s, want high", a.Level)
	}
	if a.RecommendedAction == nil || a.RecommendedAction.Kind != model.ActionKillProcess {
		t.Fatalf("RecommendedAction = %+v, want kill_process", a.RecommendedAction)
	}
	if a.RecommendedAction.Target != "pid:4242" {
		t.Errorf("Target = %q, want pid:4242", a.RecommendedAction.Target)
	}
}

func TestInvalidEventRejected(t *testing.T) {
	s := New(weights(), nil)
	if _, err := s.Analyze(context.Background(), model.Event{}); err == nil {
		t.Fatal("expected error for invalid event")
	}
}
