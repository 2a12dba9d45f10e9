package api

import (
	"fmt"
	"regexp"
)

// sessionIDPattern matches spec.md's session_id grammar.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func validateSessionID(sid string) error {
	if !sessionIDPattern.MatchString(sid) {
		return fmt.Errorf("session_id must match [A-Za-z0-9_.-]{1,64}")
	}
	return nil
}

func validateExecuteRequest(req executeRequest) error {
	if req.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validateSessionID(req.SessionID); err != nil {
		return err
	}
	if req.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

func validateCreateSessionRequest(req createSessionRequest) error {
	return validateSessionID(req.SessionID)
}
