package mailer

// Result is the status record reported to callers that expect a success flag
// and a message rather than an error value.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ResultOf converts the outcome of Send into a Result.
func ResultOf(err error) Result {
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}
	return Result{Status: StatusSuccess, Message: "Email sent successfully"}
}

// OK reports whether the send succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
