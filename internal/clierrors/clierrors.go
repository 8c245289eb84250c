// Package clierrors provides structured, categorized CLI errors with
// remediation guidance, rendered with color when the terminal supports it.
package clierrors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Category is the top-level error taxonomy from the error-handling design:
// configuration errors, repository/environment errors (Prerequisite), and
// everything else that surfaces above the per-job level (Runtime).
type Category int

const (
	// Argument errors are caused by invalid or missing command arguments.
	Argument Category = iota
	// Configuration errors: unrecognized strategy, invalid jobs value,
	// conflicting flags, missing command and missing alias.
	Configuration
	// Prerequisite errors: no working copy, no shell available, rebase
	// already in progress, no HEAD.
	Prerequisite
	// Runtime errors occur during command execution above the per-job level.
	Runtime
)

// String returns a human-readable name for the category.
func (c Category) String() string {
	switch c {
	case Argument:
		return "Argument Error"
	case Configuration:
		return "Configuration Error"
	case Prerequisite:
		return "Prerequisite Error"
	case Runtime:
		return "Runtime Error"
	default:
		return "Error"
	}
}

// CLIError is a structured error with category and remediation guidance.
type CLIError struct {
	Category    Category
	Message     string
	Remediation []string
	Usage       string
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NewArgumentError builds an Argument error.
func NewArgumentError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Argument, Message: message, Remediation: remediation}
}

// NewArgumentErrorWithUsage builds an Argument error carrying correct usage syntax.
func NewArgumentErrorWithUsage(message, usage string, remediation ...string) *CLIError {
	return &CLIError{Category: Argument, Message: message, Usage: usage, Remediation: remediation}
}

// NewConfigError builds a Configuration error.
func NewConfigError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Configuration, Message: message, Remediation: remediation}
}

// NewPrerequisiteError builds a Prerequisite error.
func NewPrerequisiteError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Prerequisite, Message: message, Remediation: remediation}
}

// NewRuntimeError builds a Runtime error.
func NewRuntimeError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Runtime, Message: message, Remediation: remediation}
}

// Wrap wraps err with category, preserving its message.
func Wrap(err error, category Category, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{Category: category, Message: err.Error(), Remediation: remediation}
}

// NoCommandError builds the Configuration error for the alias-resolution
// diagnostic: neither -x nor a resolvable -c alias was given. aliases lists
// the currently configured alias names so the user can pick one.
func NoCommandError(requestedAlias string, aliases []string) *CLIError {
	msg := fmt.Sprintf("no test command: alias %q is not configured", requestedAlias)
	if requestedAlias == "" {
		msg = "no test command: pass -x COMMAND or configure a default alias"
	}
	remediation := []string{"pass -x COMMAND directly"}
	if len(aliases) > 0 {
		remediation = append(remediation, fmt.Sprintf("currently configured aliases: %s", strings.Join(aliases, ", ")))
	} else {
		remediation = append(remediation, "no aliases are currently configured; set test.alias.<name> in config")
	}
	return NewConfigError(msg, remediation...)
}

var (
	errorLabel  = color.New(color.FgRed, color.Bold).SprintFunc()
	errorMsg    = color.New(color.FgRed).SprintFunc()
	fixLabel    = color.New(color.FgGreen, color.Bold).SprintFunc()
	usageLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	usageText   = color.New(color.FgCyan).SprintFunc()
	bullet      = color.New(color.FgGreen).SprintFunc()
	categoryFmt = color.New(color.FgYellow).SprintFunc()
)

// Format renders err for terminal display, using color when useColors is true.
func Format(err *CLIError, useColors bool) string {
	if err == nil {
		return ""
	}
	var sb strings.Builder

	if useColors {
		sb.WriteString(errorLabel("Error"))
		sb.WriteString(" [")
		sb.WriteString(categoryFmt(err.Category.String()))
		sb.WriteString("]: ")
		sb.WriteString(errorMsg(err.Message))
	} else {
		sb.WriteString("Error [")
		sb.WriteString(err.Category.String())
		sb.WriteString("]: ")
		sb.WriteString(err.Message)
	}
	sb.WriteString("\n")

	if err.Usage != "" {
		sb.WriteString("\n")
		if useColors {
			sb.WriteString(usageLabel("Usage: "))
			sb.WriteString(usageText(err.Usage))
		} else {
			sb.WriteString("Usage: " + err.Usage)
		}
		sb.WriteString("\n")
	}

	if len(err.Remediation) > 0 {
		sb.WriteString("\n")
		if useColors {
			sb.WriteString(fixLabel("To fix this:"))
		} else {
			sb.WriteString("To fix this:")
		}
		sb.WriteString("\n")
		for _, step := range err.Remediation {
			if useColors {
				sb.WriteString("  ")
				sb.WriteString(bullet("•"))
				sb.WriteString(" ")
			} else {
				sb.WriteString("  • ")
			}
			sb.WriteString(step)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// PrintError prints a formatted CLIError to stderr.
func PrintError(err *CLIError) {
	FprintError(os.Stderr, err)
}

// FprintError prints a formatted CLIError to w.
func FprintError(w io.Writer, err *CLIError) {
	if err == nil {
		return
	}
	fmt.Fprint(w, Format(err, color.NoColor == false))
}

// AsCLIError attempts to convert err to a *CLIError.
func AsCLIError(err error) *CLIError {
	cliErr, ok := err.(*CLIError)
	if ok {
		return cliErr
	}
	return nil
}
