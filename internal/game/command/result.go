package command

import (
	"errors"

	"github.com/twentytwenty/mud/internal/game/protocol"
)

// Rejection is an error whose text is safe to show to the client verbatim.
type Rejection string

func (r Rejection) Error() string { return string(r) }

// Result is the outcome of one command: an optional reply frame for the
// issuing session, or an error to be reported as an {error} frame.
type Result struct {
	Reply protocol.Frame
	Err   error
}

// NoReply is a successful Result that sends nothing back.
var NoReply = Result{}

// Reply returns a successful Result carrying a text frame.
func Reply(message string) Result {
	return Result{Reply: protocol.Text(message)}
}

// Fail returns a Result reporting err.
func Fail(err error) Result {
	return Result{Err: err}
}

// Failed reports whether the command failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Frame converts the Result to the frame sent to the issuing session.
//
// Postcondition: Rejections are reported verbatim; any other error is
// reported with a generic description. ok is false when nothing is sent.
func (r Result) Frame() (protocol.Frame, bool) {
	if r.Err != nil {
		var rej Rejection
		if errors.As(r.Err, &rej) {
			return protocol.Error(rej.Error()), true
		}
		return protocol.Error("internal error"), true
	}
	if r.Reply.IsZero() {
		return protocol.Frame{}, false
	}
	return r.Reply, true
}
