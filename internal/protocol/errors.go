package protocol

import (
	"errors"
	"fmt"
)

// Decode failures fall into two families: payload-shape errors (sentinels
// below, matched with errors.Is) and tag errors (typed, matched with
// errors.As so callers can recover the offending tag).
var (
	// ErrMalformedPayload reports a frame that is not a JSON array at all.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrWrongPayloadType reports a field that is present but has the wrong
	// underlying type for its position.
	ErrWrongPayloadType = errors.New("wrong payload type")

	ErrRealmMissing          = errors.New("realm missing")
	ErrDetailsMissing        = errors.New("details missing")
	ErrReasonMissing         = errors.New("reason missing")
	ErrTopicMissing          = errors.New("topic missing")
	ErrOptionsMissing        = errors.New("options missing")
	ErrRequestIDMissing      = errors.New("request id missing")
	ErrRequestTypeMissing    = errors.New("request type missing")
	ErrSessionIDMissing      = errors.New("session id missing")
	ErrSubscriptionIDMissing = errors.New("subscription id missing")
	ErrPublicationIDMissing  = errors.New("publication id missing")
	ErrURIMissing            = errors.New("error uri missing")
)

// UnknownTagError reports a tag outside the protocol's message set. This
// indicates a protocol violation or version mismatch by the remote.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown message type %d", int(e.Tag))
}

// NotImplementedError reports a tag that belongs to the protocol but is not
// handled by this client (publish, call, register, ...). Distinct from
// UnknownTagError: the gap is local, not a wire violation.
type NotImplementedError struct {
	Tag Tag
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("message type %d not implemented", int(e.Tag))
}
