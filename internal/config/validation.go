package config

import (
	"fmt"
	"strings"

	"ncpgateway/internal/gwerrors"
)

// dangerousChars blocks command-injection attempts via stored subprocess
// configs (§4.1). Shell metacharacters and backtick command substitution are
// rejected outright rather than escaped, since these strings are handed to
// exec.Command argv slots, not a shell — any of these appearing is a sign
// the caller meant to target a shell that will never actually run.
const dangerousChars = ";&|`$()><\n"

// ValidateSubprocessCommand rejects a Subprocess command/args pair that
// contains shell metacharacters or path-traversal via "..". Returns a
// *gwerrors.Error of Kind ConfigValidation on rejection, never persisted.
func ValidateSubprocessCommand(command string, args []string) error {
	if strings.TrimSpace(command) == "" {
		return gwerrors.New(gwerrors.ConfigValidation, "command must be a non-empty string")
	}
	if err := checkDangerous("command", command); err != nil {
		return err
	}
	for i, a := range args {
		if err := checkDangerous(fmt.Sprintf("args[%d]", i), a); err != nil {
			return err
		}
	}
	return nil
}

func checkDangerous(field, value string) error {
	if strings.ContainsAny(value, dangerousChars) {
		return gwerrors.New(gwerrors.ConfigValidation,
			fmt.Sprintf("%s contains a disallowed shell metacharacter: %q", field, value))
	}
	if strings.Contains(value, "..") {
		return gwerrors.New(gwerrors.ConfigValidation,
			fmt.Sprintf("%s contains a path-traversal sequence \"..\": %q", field, value))
	}
	return nil
}
