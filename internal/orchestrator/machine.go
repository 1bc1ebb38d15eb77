package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
)

// State is one node of the document workflow.
type State string

const (
	StateExtractText       State = "ExtractText"
	StateRedactPII         State = "RedactPII"
	StateDeleteSource      State = "DeleteSource"
	StateParseStructure    State = "ParseStructure"
	StateDetectMissingInfo State = "DetectMissingInfo"
	StateTransform         State = "Transform"
	StateEvaluateLanguage  State = "EvaluateLanguage"
	StateTranslate         State = "Translate"
	StateCombine           State = "Combine"
	StateSucceeded         State = "Succeeded"
	StateFailed            State = "Failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Stage is a unit of work the machine runs in one state.
type Stage interface {
	Name() string
	Needs() []models.Artifact
	Produces() []models.Artifact
	Run(ctx context.Context, req *models.StageRequest) error
}

// LanguageEvaluator decides once per execution whether to translate.
type LanguageEvaluator interface {
	Evaluate(ctx context.Context, userID string) (models.LanguageDecision, error)
}

// Stages are the workers bound to the machine's states.
type Stages struct {
	ExtractText       Stage
	RedactPII         Stage
	DeleteSource      Stage
	ParseStructure    Stage
	DetectMissingInfo Stage
	Transform         Stage
	TranslateSummary  Stage
	TranslateSections Stage
	Combine           Stage
}

type stateKind int

const (
	kindStage stateKind = iota
	kindChoice
	kindParallel
)

// node is one row of the transition table. Every non-terminal state moves to
// next on success and to StateFailed on an unhandled error, except best-effort
// states which log the error and move on.
type node struct {
	state      State
	kind       stateKind
	stages     []Stage
	next       State
	bestEffort bool
}

// machine is the validated transition table.
type machine struct {
	nodes map[State]*node
	entry State
}

func buildMachine(s Stages) (*machine, error) {
	nodes := []*node{
		{state: StateExtractText, kind: kindStage, stages: []Stage{s.ExtractText}, next: StateRedactPII},
		{state: StateRedactPII, kind: kindStage, stages: []Stage{s.RedactPII}, next: StateDeleteSource},
		{state: StateDeleteSource, kind: kindStage, stages: []Stage{s.DeleteSource}, next: StateParseStructure, bestEffort: true},
		{state: StateParseStructure, kind: kindStage, stages: []Stage{s.ParseStructure}, next: StateDetectMissingInfo},
		{state: StateDetectMissingInfo, kind: kindStage, stages: []Stage{s.DetectMissingInfo}, next: StateTransform, bestEffort: true},
		{state: StateTransform, kind: kindStage, stages: []Stage{s.Transform}, next: StateEvaluateLanguage},
		// EvaluateLanguage chooses between StateTranslate and StateCombine.
		{state: StateEvaluateLanguage, kind: kindChoice, next: StateCombine},
		{state: StateTranslate, kind: kindParallel, stages: []Stage{s.TranslateSummary, s.TranslateSections}, next: StateCombine},
		{state: StateCombine, kind: kindStage, stages: []Stage{s.Combine}, next: StateSucceeded},
	}

	m := &machine{nodes: make(map[State]*node, len(nodes)), entry: StateExtractText}
	for _, n := range nodes {
		for _, st := range n.stages {
			if st == nil {
				return nil, fmt.Errorf("state %s has no stage bound", n.state)
			}
		}
		m.nodes[n.state] = n
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// resumeState picks where a redelivered execution continues: the state it
// entered last, which is safe to run again because stages are idempotent.
// The language decision is not stored, so the states after the choice resume
// from EvaluateLanguage.
func (m *machine) resumeState(recorded string) State {
	s := State(recorded)
	if _, ok := m.nodes[s]; !ok {
		return m.entry
	}
	if s == StateTranslate || s == StateCombine {
		return StateEvaluateLanguage
	}
	return s
}

// paths lists every route from the entry state to a terminal state.
func (m *machine) paths() [][]State {
	var out [][]State
	var walk func(s State, path []State)
	walk = func(s State, path []State) {
		path = append(slices.Clone(path), s)
		if s.Terminal() {
			out = append(out, path)
			return
		}
		n := m.nodes[s]
		if n.kind == kindChoice {
			walk(StateTranslate, path)
		}
		walk(n.next, path)
	}
	walk(m.entry, nil)
	return out
}

// validate checks that every state is reachable and that along every path
// each stage's needs are produced by an earlier state. Stages running in
// parallel cannot depend on each other.
func (m *machine) validate() error {
	reached := make(map[State]bool)
	for _, path := range m.paths() {
		available := map[models.Artifact]bool{models.ArtifactSourceObject: true}
		for _, s := range path {
			reached[s] = true
			n, ok := m.nodes[s]
			if !ok {
				if s.Terminal() {
					continue
				}
				return fmt.Errorf("transition to undefined state %s", s)
			}
			for _, st := range n.stages {
				for _, need := range st.Needs() {
					if !available[need] {
						return fmt.Errorf("state %s: stage %s needs %s, which no earlier state produces", s, st.Name(), need)
					}
				}
			}
			for _, st := range n.stages {
				for _, a := range st.Produces() {
					available[a] = true
				}
			}
			if n.kind == kindChoice {
				available[models.ArtifactLanguageDecision] = true
			}
		}
		if !available[models.ArtifactFinalRecord] {
			return fmt.Errorf("path %v never produces %s", path, models.ArtifactFinalRecord)
		}
	}
	for s := range m.nodes {
		if !reached[s] {
			return fmt.Errorf("state %s is unreachable", s)
		}
	}
	return nil
}
