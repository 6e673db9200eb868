package domain

// Status is the coarse outcome of handling one inbound request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusIgnored Status = "ignored"
)

// Failure classifies why a request did not succeed.
type Failure string

const (
	FailureNone               Failure = ""
	FailureIgnored            Failure = "ignored"             // out of scope: feature off, wrong type, unknown group
	FailureValidation         Failure = "validation"          // bad arguments, missing binding, self transfer
	FailureServiceUnavailable Failure = "service_unavailable" // a host capability is absent
	FailureTransport          Failure = "transport"           // outbound HTTP call failed
	FailureState              Failure = "state"               // a host mutation failed
)

// Result is returned to the gateway for every inbound request.
type Result struct {
	Status  Status  `json:"status"`
	Reason  string  `json:"reason,omitempty"`
	Message string  `json:"message,omitempty"`
	Failure Failure `json:"-"`

	UserID     int64          `json:"user_id,omitempty"`
	QQID       string         `json:"qq_id,omitempty"`
	Count      int            `json:"count,omitempty"`
	FromUserID int64          `json:"from_user_id,omitempty"`
	ToUserID   int64          `json:"to_user_id,omitempty"`
	Points     int64          `json:"points,omitempty"`
	Token      string         `json:"token,omitempty"`
	Reward     *CheckInReward `json:"reward,omitempty"`
}

// Ignored builds a result for a request that is well formed but out of scope.
func Ignored(reason string) Result {
	return Result{Status: StatusIgnored, Reason: reason, Failure: FailureIgnored}
}

// Fail builds an error result.
func Fail(f Failure, reason, message string) Result {
	return Result{Status: StatusError, Reason: reason, Message: message, Failure: f}
}

// Succeed builds a success result.
func Succeed(message string) Result {
	return Result{Status: StatusSuccess, Message: message}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Status == StatusSuccess }
