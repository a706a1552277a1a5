package publisher

import (
	"errors"
	"strings"

	"feedsync/internal/wire"
)

// Fatal conditions returned from Exercise. They indicate a programming error or
// protocol drift and are not recoverable by retrying.
var (
	ErrInternal     = errors.New("internal error")
	ErrProtocol     = errors.New("protocol violation")
	ErrDecode       = errors.New("message decode failed")
	ErrDuplicateKey = errors.New("correlation key already registered")
	ErrInvalidState = errors.New("invalid subscription state")
)

// DefaultServerWarningText is used when an Error action carries no texts
const DefaultServerWarningText = "Publisher server warning"

// ErrorKind classifies a subscription error
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindRequestTimeout
	KindOfflined
	KindPublishRequestError
	KindSubRequestError
	KindDataError
	KindUserNotAuthorised
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindRequestTimeout:
		return "request_timeout"
	case KindOfflined:
		return "offlined"
	case KindPublishRequestError:
		return "publish_request_error"
	case KindSubRequestError:
		return "sub_request_error"
	case KindDataError:
		return "data_error"
	case KindUserNotAuthorised:
		return "user_not_authorised"
	default:
		return "unknown"
	}
}

// RetryKind says if and when a failed subscription may be retried
type RetryKind int

const (
	// RetryNever: the subscription is deleted
	RetryNever RetryKind = iota
	// RetryDelay: retry after a delay
	RetryDelay
	// RetrySubscribabilityIncrease: retry once something changes (reconnect, permissions)
	RetrySubscribabilityIncrease
)

// String returns the string representation of RetryKind
func (r RetryKind) String() string {
	switch r {
	case RetryNever:
		return "never"
	case RetryDelay:
		return "delay"
	case RetrySubscribabilityIncrease:
		return "subscribability_increase"
	default:
		return "unknown"
	}
}

// ErrorClassification is the result of classifying a wire error payload
type ErrorClassification struct {
	Kind         ErrorKind
	AllowedRetry RetryKind
	Texts        []string
	// Limited is informational: the server limited the data, it does not affect retry
	Limited bool
}

// notAuthorisedMarkers identify authorisation failures amongst server texts
var notAuthorisedMarkers = []string{
	"not authorised",
	"not authorized",
	"unauthorised",
	"unauthorized",
}

// AllowedRetryFor returns the retry kind of an error kind.
// retrySpecified is the server's Retry marker and only matters for request and data errors.
func AllowedRetryFor(kind ErrorKind, retrySpecified bool) RetryKind {
	switch kind {
	case KindInternal, KindUserNotAuthorised:
		return RetryNever
	case KindRequestTimeout:
		return RetryDelay
	case KindOfflined:
		return RetrySubscribabilityIncrease
	default:
		if retrySpecified {
			return RetryDelay
		}
		return RetrySubscribabilityIncrease
	}
}

// Classify inspects the Data of env in the context of the error kind the
// action would produce. ok is false when the payload carries no error.
//
// An absent or null payload is not an error for publish responses, but is
// treated as UserNotAuthorised for every other context.
func Classify(env *wire.Envelope, context ErrorKind) (ErrorClassification, bool) {
	if env.DataAbsent() {
		if context == KindPublishRequestError {
			return ErrorClassification{}, false
		}
		return ErrorClassification{
			Kind:         KindUserNotAuthorised,
			AllowedRetry: RetryNever,
			Texts:        []string{},
		}, true
	}

	texts, ok := env.ErrorTexts()
	if !ok {
		return ErrorClassification{}, false
	}
	return ClassifyTexts(texts, context), true
}

// ClassifyTexts classifies server error texts for the given context
func ClassifyTexts(texts []string, context ErrorKind) ErrorClassification {
	kind := context
	retrySpecified := false
	limited := false
	for _, text := range texts {
		switch text {
		case wire.ErrorCodeRetry:
			retrySpecified = true
		case wire.ErrorCodeLimited:
			limited = true
		default:
			if (context == KindPublishRequestError || context == KindSubRequestError) && isNotAuthorised(text) {
				kind = KindUserNotAuthorised
			}
		}
	}

	return ErrorClassification{
		Kind:         kind,
		AllowedRetry: AllowedRetryFor(kind, retrySpecified),
		Texts:        texts,
		Limited:      limited,
	}
}

func isNotAuthorised(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range notAuthorisedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// NewErrorMessage builds the error message for sub from a classification.
// where names the channel the error relates to and is appended to the text.
func NewErrorMessage(sub *Subscription, c ErrorClassification, where string, requestSent bool) *ErrorMessage {
	header := HeaderFor(sub)
	if c.Kind == KindInternal || c.Kind == KindOfflined {
		header = broadcastHeader(sub)
	}
	return &ErrorMessage{
		Header:       header,
		Kind:         c.Kind,
		Text:         formatErrorText(c.Texts, where),
		AllowedRetry: c.AllowedRetry,
		RequestSent:  requestSent,
	}
}

func formatErrorText(texts []string, where string) string {
	joined := strings.Join(texts, ",")
	if where == "" {
		return joined
	}
	return joined + " (" + where + ")"
}
