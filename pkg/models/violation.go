package models

// ViolationCode classifies tool gate rejections. Callers match on the
// code, never on the message text.
type ViolationCode string

// Violation codes, in check order. First failure wins.
const (
	ViolationToolNotAllowed    ViolationCode = "TOOL_NOT_ALLOWED"
	ViolationPathEscape        ViolationCode = "PATH_ESCAPE"
	ViolationIDesignNaming     ViolationCode = "IDESIGN_NAMING"
	ViolationIDesignComplexity ViolationCode = "IDESIGN_COMPLEXITY"
	ViolationForbiddenFileType ViolationCode = "FORBIDDEN_FILE_TYPE"
)

// ViolationSeverity grades a violation. Warnings are recorded but do not
// short-circuit the turn.
type ViolationSeverity string

// Violation severities.
const (
	SeverityWarning ViolationSeverity = "warning"
	SeverityError   ViolationSeverity = "error"
)

// Violation is the structured result of a failed gate check.
type Violation struct {
	Code     ViolationCode     `json:"code"`
	Severity ViolationSeverity `json:"severity"`
	Message  string            `json:"message"`
	Path     string            `json:"path,omitempty"`
}

// Error makes a Violation usable as an error value in turn outcomes.
func (v *Violation) Error() string {
	return string(v.Code) + ": " + v.Message
}
