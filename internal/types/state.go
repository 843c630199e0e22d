package types

import (
	"strconv"
	"strings"
)

// StateID identifies a protocol state as derived from a target response.
type StateID string

// UnknownState absorbs responses that no state could be extracted from.
const UnknownState StateID = "<unknown>"

// DirName is the identifier made safe for use as a single path element.
func (id StateID) DirName() string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, string(id))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// StateRef is a stable handle into the state graph arena.
type StateRef int

// NoState is the "from" of the first message of a session.
const NoState StateRef = -1

func (r StateRef) String() string {
	if r == NoState {
		return "none"
	}
	return strconv.Itoa(int(r))
}

// Outcome is the terminal result of one execution.
type Outcome int

const (
	OutcomeNormal Outcome = iota
	OutcomeTimeout
	OutcomeCrash
)

// String returns the short label used in trace files.
func (o Outcome) String() string {
	switch o {
	case OutcomeNormal:
		return "Ok"
	case OutcomeTimeout:
		return "Tm"
	case OutcomeCrash:
		return "Cr"
	default:
		return "??"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(label string) (Outcome, bool) {
	switch label {
	case "Ok":
		return OutcomeNormal, true
	case "Tm":
		return OutcomeTimeout, true
	case "Cr":
		return OutcomeCrash, true
	}
	return OutcomeNormal, false
}
