package scenario

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Step actions.
const (
	ActionCall    = "call"
	ActionSubmit  = "submit"
	ActionDrain   = "drain"
	ActionTick    = "tick"
	ActionUpgrade = "upgrade"
	ActionRemove  = "remove"
	ActionAdvance = "advance"
)

// Scenario is a scripted session against a fresh replica.
type Scenario struct {
	Name      string      `toml:"name"`
	Replica   ReplicaSpec `toml:"replica"`
	Canisters []Canister  `toml:"canister"`
	Steps     []Step      `toml:"step"`
}

// ReplicaSpec overrides the replica configuration for one scenario. Zero
// values keep the runner's base configuration.
type ReplicaSpec struct {
	Deterministic  *bool  `toml:"deterministic"`
	Workers        int    `toml:"workers"`
	HeapMaxPages   uint32 `toml:"heap_max_pages"`
	StableMaxPages uint32 `toml:"stable_max_pages"`
	// Time is the initial value of the replica clock in nanoseconds.
	Time uint64 `toml:"time"`
}

// Canister declares one canister built from the catalog.
type Canister struct {
	Name    string         `toml:"name"`
	Kind    string         `toml:"kind"`
	Balance uint64         `toml:"balance"`
	Init    any            `toml:"init"`
	Params  map[string]any `toml:"params"`
}

// Step is one action of a scenario.
type Step struct {
	Action   string `toml:"action"`
	Label    string `toml:"label"`
	Canister string `toml:"canister"`
	Method   string `toml:"method"`
	Arg      any    `toml:"arg"`
	// Caller names a mock user; empty means anonymous.
	Caller string `toml:"caller"`
	Cycles uint64 `toml:"cycles"`
	Query  bool   `toml:"query"`
	// Kind is the catalog entry an upgrade switches to.
	Kind  string `toml:"kind"`
	Nanos uint64 `toml:"nanos"`
	// Await names an earlier submit step whose outcome this step checks.
	Await  string  `toml:"await"`
	Expect *Expect `toml:"expect"`
}

// Expect is the outcome a step must produce. Unset fields are not checked.
type Expect struct {
	Outcome string `toml:"outcome"`
	Reply   any    `toml:"reply"`
	Code    string `toml:"code"`
	// Message must be contained in the reject or trap message.
	Message string  `toml:"message"`
	Refund  *uint64 `toml:"refund"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	var s Scenario
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode "+path)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), ".toml")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Parse decodes and validates a scenario from TOML text.
func Parse(data string) (*Scenario, error) {
	var s Scenario
	if _, err := toml.Decode(data, &s); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names and step fields. Catalog kinds are checked when
// the scenario is opened.
func (s *Scenario) Validate() error {
	names := make(map[string]struct{}, len(s.Canisters))
	for i, c := range s.Canisters {
		if c.Name == "" {
			return stepError("canister", i, "name is required")
		}
		if c.Kind == "" {
			return stepError("canister", i, "kind is required")
		}
		if _, dup := names[c.Name]; dup {
			return errors.Duplicate(errors.PhaseConfig, "canister", c.Name)
		}
		names[c.Name] = struct{}{}
	}

	labels := make(map[string]string)
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Action == "" {
			st.Action = ActionCall
		}
		needCanister := false
		switch st.Action {
		case ActionCall, ActionSubmit:
			if st.Action == ActionSubmit && (st.Await != "" || st.Label == "") {
				return stepError("step", i, "submit needs a label and cannot await")
			}
			needCanister = st.Await == ""
			if needCanister && st.Method == "" {
				return stepError("step", i, "method is required")
			}
		case ActionUpgrade, ActionRemove:
			needCanister = true
		case ActionDrain, ActionTick, ActionAdvance:
		default:
			return stepError("step", i, fmt.Sprintf("unknown action %q", st.Action))
		}
		if needCanister {
			if _, ok := names[st.Canister]; !ok {
				return stepError("step", i, fmt.Sprintf("unknown canister %q", st.Canister))
			}
		}
		if st.Caller != "" {
			if _, ok := principal.Users[st.Caller]; !ok {
				return stepError("step", i, fmt.Sprintf("unknown caller %q", st.Caller))
			}
		}
		if st.Await != "" {
			if labels[st.Await] != ActionSubmit {
				return stepError("step", i, fmt.Sprintf("await %q does not name an earlier submit step", st.Await))
			}
		}
		if st.Label != "" {
			if _, dup := labels[st.Label]; dup {
				return errors.Duplicate(errors.PhaseConfig, "step label", st.Label)
			}
			labels[st.Label] = st.Action
		}
		if st.Expect != nil {
			if err := st.Expect.validate(); err != nil {
				return stepError("step", i, err.Error())
			}
		}
	}
	return nil
}

func (e *Expect) validate() error {
	switch e.Outcome {
	case "", "reply", "reject", "trap":
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Code != "" {
		if _, ok := rejectCodes[e.Code]; !ok {
			return fmt.Errorf("unknown reject code %q", e.Code)
		}
	}
	return nil
}

func stepError(what string, i int, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(fmt.Sprintf("%s[%d]", what, i)).
		Detail("%s", detail).
		Build()
}

// Describe is a one-line summary of the step.
func (st Step) Describe() string {
	if st.Label != "" && st.Action != ActionSubmit {
		return st.Label
	}
	switch st.Action {
	case ActionCall, ActionSubmit:
		if st.Await != "" {
			return "await " + st.Await
		}
		kind := "call"
		if st.Query {
			kind = "query"
		}
		if st.Action == ActionSubmit {
			kind = "submit"
		}
		return fmt.Sprintf("%s %s.%s", kind, st.Canister, st.Method)
	case ActionUpgrade:
		return fmt.Sprintf("upgrade %s to %s", st.Canister, st.Kind)
	case ActionRemove:
		return "remove " + st.Canister
	case ActionAdvance:
		return fmt.Sprintf("advance %dns", st.Nanos)
	default:
		return st.Action
	}
}

// Encode writes s as TOML.
func Encode(w io.Writer, s *Scenario) error {
	return toml.NewEncoder(w).Encode(s)
}
