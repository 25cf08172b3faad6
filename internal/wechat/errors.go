package wechat

import "fmt"

// APIError is the generic business failure: a non-zero errcode outside the
// closed set of concrete error classes, carrying the server-supplied
// message.
type APIError struct {
	Code int64
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error %d: %s", e.Code, e.Msg)
}

// SystemBusyError is errcode -1: the platform asks the caller to retry
// later. It is never retried within the same call.
type SystemBusyError struct {
	Msg string
}

func (e *SystemBusyError) Error() string {
	return fmt.Sprintf("wechat system busy: %s", e.Msg)
}

// QuotaExceededError is errcode 45009: the daily API invocation quota is
// used up.
type QuotaExceededError struct {
	Msg string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("wechat daily api quota exceeded: %s", e.Msg)
}

// IndustryChangeError is errcode 43100: the template-message industry was
// changed too frequently.
type IndustryChangeError struct {
	Msg string
}

func (e *IndustryChangeError) Error() string {
	return fmt.Sprintf("wechat industry changed too frequently: %s", e.Msg)
}

// SemanticError is raised by the semantic-parsing endpoint (errcodes in the
// 7000000-8000000 range); it carries the query text that failed to parse.
type SemanticError struct {
	Code  int64
	Query string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("wechat semantic parse error %d for query %q", e.Code, e.Query)
}

// concreteErrors maps an errcode to its error class. The message defaults to
// the class description when the server supplies none.
var concreteErrors = map[int64]func(msg string) error{
	-1: func(msg string) error {
		return &SystemBusyError{Msg: orDefault(msg, "system busy, try again later")}
	},
	45009: func(msg string) error {
		return &QuotaExceededError{Msg: orDefault(msg, "reached max api daily quota limit")}
	},
	43100: func(msg string) error {
		return &IndustryChangeError{Msg: orDefault(msg, "change industry too frequently")}
	},
}

func orDefault(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}
