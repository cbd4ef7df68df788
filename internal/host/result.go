package host

import "fmt"

// Status tags a command Result.
type Status string

const (
	// StatusSuccess means the command did what was asked.
	StatusSuccess Status = "success"
	// StatusEmpty means the command had nothing to act on.
	StatusEmpty Status = "empty"
	// StatusError means the command failed.
	StatusError Status = "error"
)

// Result is the outcome of a console command, with the message shown to the
// actor who issued it.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the command did not fail.
func (r Result) OK() bool {
	return r.Status != StatusError
}

func success(format string, args ...any) Result {
	return Result{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func empty(format string, args ...any) Result {
	return Result{Status: StatusEmpty, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Messages shown to actors.
const (
	msgSelected         = "Selected script: %s"
	msgAlreadySelected  = "You have already selected this script."
	msgNotFound         = "That file can't be found."
	msgCurrentSelection = "Current selection: %s"
	msgExecuted         = "Successfully executed the script."
	msgErrorAtLine      = "%s has an error at line %d"
	msgError            = "%s has an error: %s"
	msgMissing          = "%s can't be executed because it's missing."
	msgAlreadyRunning   = "%s is already running."
	msgNotActive        = "The script is not active."
	msgDiscarded        = "Discarded the script."
	msgSelectFirst      = "Please select a script: select <file>"
	msgNoIdentity       = "You can not use this command."
)
