package util

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ProcessRunning reports whether any running process has the given executable name.
// Linux truncates executable names to 15 characters in the process table, so
// longer names are compared by prefix.
func ProcessRunning(executable string) (bool, error) {
	processes, err := ps.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processes {
		if executableMatches(process.Executable(), executable) {
			return true, nil
		}
	}

	return false, nil
}

const maxCommLength = 15

func executableMatches(reported string, wanted string) bool {
	if reported == wanted {
		return true
	}

	if len(reported) == maxCommLength && len(wanted) > maxCommLength {
		return strings.HasPrefix(wanted, reported)
	}

	return false
}
