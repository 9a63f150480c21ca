package utils

import (
	"fmt"
	"regexp"
)

// EnumValidator accepts only the listed values.
func EnumValidator(allowed ...string) func(string) error {
	set := map[string]struct{}{}
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(s string) error {
		if _, ok := set[s]; ok {
			return nil
		}
		return fmt.Errorf("validation failed: %q not in %v", s, allowed)
	}
}

var flagPattern = regexp.MustCompile(`^(Yes|No|N/A)$`)

// FlagValidator accepts the Yes / No / N/A flags written on audit records.
func FlagValidator(s string) error {
	if flagPattern.MatchString(s) {
		return nil
	}
	return fmt.Errorf("validation failed: %q is not Yes, No or N/A", s)
}
