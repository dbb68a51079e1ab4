// Package scenario is a declarative conformance harness over channel
// operation sequences: a record phase, a replay phase, and the error (if
// any) the replay phase must raise.
//
// A scenario drives the matcher directly rather than through the public
// dilog API: it bypasses the channel registry and thread-affinity check
// entirely, since a scenario runs exactly one sequence from exactly one
// goroutine and never shares its state.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rtjones/dilog/internal/codec"
	"github.com/rtjones/dilog/internal/diverr"
	"github.com/rtjones/dilog/internal/frame"
	"github.com/rtjones/dilog/internal/index"
	"github.com/rtjones/dilog/internal/matcher"
	"github.com/rtjones/dilog/internal/record"
	"github.com/rtjones/dilog/internal/trace"
)

// Step is a single live operation a scenario's record or replay phase
// issues, mirroring the three operations of the live API (spec §6).
type Step struct {
	Op    string `yaml:"op"` // "open", "close", or "emit"
	Block string `yaml:"block,omitempty"`
	Text  string `yaml:"text,omitempty"`
}

// Scenario is a single fixture: generalizes the concrete scenarios of
// spec §8 into data instead of Go test code.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Channel     string `yaml:"channel"`
	Record      []Step `yaml:"record"`
	Replay      []Step `yaml:"replay"`

	// ExpectError is the diverr.Code the replay phase must raise. Empty
	// means replay must complete without error.
	ExpectError diverr.Code `yaml:"expect_error,omitempty"`
}

// Load parses a single scenario fixture from a YAML file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir parses every *.yaml fixture in dir, in filename order.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scenario: read dir %s: %w", dir, err)
	}
	var scenarios []*Scenario
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		s, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// Run executes a scenario's record phase, then its replay phase, against
// a fresh trace file under dir. It returns the error the replay phase
// raised, or nil on success.
func Run(dir string, s *Scenario) error {
	path := filepath.Join(dir, s.Channel+".dilog")
	if err := runRecord(path, s.Record); err != nil {
		return fmt.Errorf("scenario %s: record phase: %w", s.Name, err)
	}
	return runReplay(path, s.Channel, s.Replay)
}

// CheckOutcome runs s and reports whether the replay phase's outcome
// matches s.ExpectError.
func CheckOutcome(dir string, s *Scenario) error {
	err := Run(dir, s)
	if s.ExpectError == "" {
		if err != nil {
			return fmt.Errorf("scenario %s: expected success, got: %w", s.Name, err)
		}
		return nil
	}
	if err == nil {
		return fmt.Errorf("scenario %s: expected error %s, got success", s.Name, s.ExpectError)
	}
	if !diverr.IsCode(err, s.ExpectError) {
		return fmt.Errorf("scenario %s: expected error %s, got: %v", s.Name, s.ExpectError, err)
	}
	return nil
}

func runRecord(path string, steps []Step) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	w := trace.NewWriter(f)
	defer w.Close()

	stack := frame.NewStack(channelName(path))
	for _, step := range steps {
		if err := applyRecordStep(w, stack, step); err != nil {
			return err
		}
	}
	return nil
}

func applyRecordStep(w *trace.Writer, stack *frame.Stack, step Step) error {
	switch step.Op {
	case "open":
		parent := *stack.Top()
		prefix := parent.ChildPrefix(step.Block)
		if err := w.WriteLine(codec.Line{Kind: codec.Open, Prefix: prefix}); err != nil {
			return err
		}
		stack.Push(frame.Frame{Name: step.Block, Prefix: prefix})
		return nil
	case "close":
		top := stack.Pop()
		return w.WriteLine(codec.Line{Kind: codec.Close, Prefix: top.Prefix})
	case "emit":
		return w.WriteLine(codec.Line{Kind: codec.Message, Prefix: stack.Top().Prefix, Text: step.Text})
	default:
		return fmt.Errorf("scenario: unknown op %q", step.Op)
	}
}

func runReplay(path, channel string, steps []Step) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	cur := trace.NewCursor(f)
	defer cur.Close()

	stack := frame.NewStack(channelName(path))
	rec := &record.Record{}
	unmatched := index.New()
	m := matcher.New(cur, stack, rec, unmatched, channel)

	for _, step := range steps {
		if err := applyReplayStep(m, step); err != nil {
			return err
		}
	}
	return nil
}

func applyReplayStep(m *matcher.Matcher, step Step) error {
	switch step.Op {
	case "open":
		return m.Open(step.Block)
	case "close":
		return m.CloseTop()
	case "emit":
		return m.Message(step.Text)
	default:
		return fmt.Errorf("scenario: unknown op %q", step.Op)
	}
}

func channelName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".dilog")
}
