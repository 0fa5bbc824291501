package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"remindd/internal/capability"
	"remindd/internal/reminder"
	"remindd/internal/scheduling"
	"remindd/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // operation ran and failed (not found, invalid trigger, store error)
	ExitCommandError = 2 // bad flags or config
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// OutputFormatter writes command results as JSON envelopes or styled text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. In text mode text is printed instead, so callers
// render their own human view.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintln(f.errWriter(), errorStyle.Render("error ["+code+"]")+" "+message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.errWriter(), "details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// fail reports err through the formatter and returns the matching
// ExitError for cobra.
func (f *OutputFormatter) fail(op string, err error) error {
	code, exit := "E_FAILED", ExitFailure
	switch {
	case reminder.IsNotFound(err):
		code = "E_NOT_FOUND"
	case errors.Is(err, reminder.ErrInvalidTrigger):
		code = "E_INVALID_TRIGGER"
	case errors.Is(err, reminder.ErrInvalidInput):
		code, exit = "E_INVALID_INPUT", ExitCommandError
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, op, err)
}

func renderReminder(r store.Reminder) string {
	var b strings.Builder
	state := successStyle.Render("enabled")
	if !r.Enabled {
		state = dimStyle.Render("disabled")
	}
	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render(r.NotificationTitle), state)
	if r.NotificationMessage != "" {
		fmt.Fprintln(&b, r.NotificationMessage)
	}
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("id:     "), r.ID)
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("type:   "), r.Type)
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("trigger:"), formatWhen(r.TriggerAt, r.Timezone))
	handle := r.LocalHandle
	if handle == "" {
		handle = "(none)"
	}
	fmt.Fprintf(&b, "%s %s", dimStyle.Render("handle: "), handle)
	return boxStyle.Render(b.String())
}

func renderResult(res reminder.Result) string {
	out := renderReminder(res.Reminder)
	if res.Schedule == nil {
		return out
	}
	return out + "\n" + renderSchedule(*res.Schedule)
}

func renderSchedule(r scheduling.Result) string {
	line := "schedule: " + string(r.Outcome)
	if r.Reason != "" {
		line += " (" + r.Reason + ")"
	}
	if r.Armed() {
		return successStyle.Render(line)
	}
	return warningStyle.Render(line)
}

func renderList(list []store.Reminder) string {
	if len(list) == 0 {
		return dimStyle.Render("No upcoming reminders.")
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d upcoming", len(list))))
	for _, r := range list {
		mark := successStyle.Render("●")
		if !r.Enabled {
			mark = dimStyle.Render("○")
		} else if r.LocalHandle == "" {
			mark = warningStyle.Render("●")
		}
		fmt.Fprintf(&b, "\n%s %s  %s  %s", mark, formatWhen(r.TriggerAt, r.Timezone), r.NotificationTitle, dimStyle.Render(r.ID))
	}
	return b.String()
}

func renderCapability(res capability.Result) string {
	style := successStyle
	if !res.Capable {
		style = warningStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("mode:  "), style.Render(string(res.Mode)))
	fmt.Fprintf(&b, "%s %s", headerStyle.Render("reason:"), res.Reason)
	if res.Detail != "" {
		fmt.Fprintf(&b, "\n%s %s", headerStyle.Render("detail:"), res.Detail)
	}
	return boxStyle.Render(b.String())
}

func formatWhen(t time.Time, zone string) string {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return t.In(loc).Format("2006-01-02 15:04 MST")
		}
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
