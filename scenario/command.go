package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// ParseCommand turns one console line into a step. Accepted forms:
//
//	<canister> <method> [arg]
//	query <canister> <method> [arg]
//	as <user> <canister> <method> [arg]
//	tick | drain | advance <nanos> | remove <canister> | upgrade <canister> [kind]
//
// The argument is read as a TOML value (5, "text", {key = "a"}); anything
// that is not valid TOML is taken as a literal string.
func ParseCommand(line string) (Step, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Step{}, errors.InvalidInput(errors.PhaseConfig, "empty command")
	}

	switch fields[0] {
	case ActionTick, ActionDrain:
		return Step{Action: fields[0]}, nil
	case ActionAdvance:
		if len(fields) != 2 {
			return Step{}, usage("advance <nanos>")
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Step{}, errors.InvalidInput(errors.PhaseConfig, "advance: "+err.Error())
		}
		return Step{Action: ActionAdvance, Nanos: n}, nil
	case ActionRemove:
		if len(fields) != 2 {
			return Step{}, usage("remove <canister>")
		}
		return Step{Action: ActionRemove, Canister: fields[1]}, nil
	case ActionUpgrade:
		if len(fields) < 2 || len(fields) > 3 {
			return Step{}, usage("upgrade <canister> [kind]")
		}
		st := Step{Action: ActionUpgrade, Canister: fields[1]}
		if len(fields) == 3 {
			st.Kind = fields[2]
		}
		return st, nil
	}

	st := Step{Action: ActionCall}
	rest := strings.TrimSpace(line)
	for {
		word, tail := cut(rest)
		switch word {
		case "query":
			st.Query = true
			rest = tail
			continue
		case "as":
			user, tail2 := cut(tail)
			if _, ok := principal.Users[user]; !ok {
				return Step{}, errors.NotFound(errors.PhaseConfig, "user", user)
			}
			st.Caller = user
			rest = tail2
			continue
		}
		break
	}

	st.Canister, rest = cut(rest)
	st.Method, rest = cut(rest)
	if st.Canister == "" || st.Method == "" {
		return Step{}, usage("<canister> <method> [arg]")
	}
	if rest != "" {
		st.Arg = parseValue(rest)
	}
	return st, nil
}

func cut(s string) (string, string) {
	s = strings.TrimSpace(s)
	word, rest, _ := strings.Cut(s, " ")
	return word, strings.TrimSpace(rest)
}

func parseValue(s string) any {
	var doc struct {
		V any `toml:"v"`
	}
	if _, err := toml.Decode("v = "+s, &doc); err != nil || doc.V == nil {
		return s
	}
	return doc.V
}

func usage(form string) error {
	return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("usage: %s", form))
}
