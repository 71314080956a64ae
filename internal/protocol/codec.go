package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode maps a message to its positional wire representation, tag first.
// The inverse of Decode for every well-formed message.
func Encode(m Message) []any {
	switch m := m.(type) {
	case Hello:
		return []any{int(TagHello), m.Realm, dict(m.Details)}
	case Welcome:
		return []any{int(TagWelcome), m.SessionID, dict(m.Details)}
	case Goodbye:
		return []any{int(TagGoodbye), dict(m.Details), m.Reason}
	case Error:
		items := []any{int(TagError), int(m.RequestType), m.RequestID, dict(m.Details), m.URI}
		return appendPayload(items, m.Args, m.Kwargs)
	case Subscribe:
		return []any{int(TagSubscribe), m.RequestID, dict(m.Options), m.Topic}
	case Subscribed:
		return []any{int(TagSubscribed), m.RequestID, m.SubscriptionID}
	case Unsubscribe:
		return []any{int(TagUnsubscribe), m.RequestID, m.SubscriptionID}
	case Unsubscribed:
		return []any{int(TagUnsubscribed), m.RequestID}
	case Event:
		items := []any{int(TagEvent), m.SubscriptionID, m.PublicationID, dict(m.Details)}
		return appendPayload(items, m.Args, m.Kwargs)
	}
	// Message is sealed; the switch above is exhaustive.
	panic(fmt.Sprintf("protocol: encode of unknown message %T", m))
}

// appendPayload appends the optional args/kwargs tail. The wire format is
// strictly positional: kwargs cannot appear without an args slot before it,
// so a present kwargs with absent args forces an empty args placeholder.
func appendPayload(items []any, args []any, kwargs map[string]any) []any {
	switch {
	case kwargs != nil:
		if args == nil {
			args = []any{}
		}
		return append(items, args, kwargs)
	case args != nil:
		return append(items, args)
	}
	return items
}

// dict normalizes a nil mapping to an empty one so it serializes as {}
// rather than null.
func dict(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Decode maps a positional wire sequence (tag first) back to a message.
// Unknown tags fail with *UnknownTagError; recognized tags this client does
// not handle fail with *NotImplementedError; shape problems fail with the
// field-specific sentinels or ErrWrongPayloadType.
func Decode(items []any) (Message, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedPayload)
	}
	n, err := asID(items[0])
	if err != nil {
		return nil, fmt.Errorf("%w: message tag", ErrWrongPayloadType)
	}
	tag := Tag(n)
	fields := items[1:]

	switch tag {
	case TagHello:
		realm, err := stringField(fields, 0, ErrRealmMissing)
		if err != nil {
			return nil, err
		}
		details, err := dictField(fields, 1, ErrDetailsMissing)
		if err != nil {
			return nil, err
		}
		return Hello{Realm: realm, Details: details}, nil

	case TagWelcome:
		id, err := idField(fields, 0, ErrSessionIDMissing)
		if err != nil {
			return nil, err
		}
		details, err := dictField(fields, 1, ErrDetailsMissing)
		if err != nil {
			return nil, err
		}
		return Welcome{SessionID: id, Details: details}, nil

	case TagGoodbye:
		details, err := dictField(fields, 0, ErrDetailsMissing)
		if err != nil {
			return nil, err
		}
		reason, err := stringField(fields, 1, ErrReasonMissing)
		if err != nil {
			return nil, err
		}
		return Goodbye{Details: details, Reason: reason}, nil

	case TagError:
		reqType, err := idField(fields, 0, ErrRequestTypeMissing)
		if err != nil {
			return nil, err
		}
		reqID, err := idField(fields, 1, ErrRequestIDMissing)
		if err != nil {
			return nil, err
		}
		details, err := dictField(fields, 2, ErrDetailsMissing)
		if err != nil {
			return nil, err
		}
		uri, err := stringField(fields, 3, ErrURIMissing)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := payloadTail(fields, 4)
		if err != nil {
			return nil, err
		}
		return Error{
			RequestType: Tag(reqType),
			RequestID:   reqID,
			Details:     details,
			URI:         uri,
			Args:        args,
			Kwargs:      kwargs,
		}, nil

	case TagSubscribe:
		reqID, err := idField(fields, 0, ErrRequestIDMissing)
		if err != nil {
			return nil, err
		}
		options, err := dictField(fields, 1, ErrOptionsMissing)
		if err != nil {
			return nil, err
		}
		topic, err := stringField(fields, 2, ErrTopicMissing)
		if err != nil {
			return nil, err
		}
		return Subscribe{RequestID: reqID, Options: options, Topic: topic}, nil

	case TagSubscribed:
		reqID, err := idField(fields, 0, ErrRequestIDMissing)
		if err != nil {
			return nil, err
		}
		subID, err := idField(fields, 1, ErrSubscriptionIDMissing)
		if err != nil {
			return nil, err
		}
		return Subscribed{RequestID: reqID, SubscriptionID: subID}, nil

	case TagUnsubscribe:
		reqID, err := idField(fields, 0, ErrRequestIDMissing)
		if err != nil {
			return nil, err
		}
		subID, err := idField(fields, 1, ErrSubscriptionIDMissing)
		if err != nil {
			return nil, err
		}
		return Unsubscribe{RequestID: reqID, SubscriptionID: subID}, nil

	case TagUnsubscribed:
		reqID, err := idField(fields, 0, ErrRequestIDMissing)
		if err != nil {
			return nil, err
		}
		return Unsubscribed{RequestID: reqID}, nil

	case TagEvent:
		subID, err := idField(fields, 0, ErrSubscriptionIDMissing)
		if err != nil {
			return nil, err
		}
		pubID, err := idField(fields, 1, ErrPublicationIDMissing)
		if err != nil {
			return nil, err
		}
		details, err := dictField(fields, 2, ErrDetailsMissing)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := payloadTail(fields, 3)
		if err != nil {
			return nil, err
		}
		return Event{
			SubscriptionID: subID,
			PublicationID:  pubID,
			Details:        details,
			Args:           args,
			Kwargs:         kwargs,
		}, nil

	case TagAbort, TagChallenge, TagAuthenticate, TagPublish, TagPublished,
		TagCall, TagCancel, TagResult, TagRegister, TagRegistered,
		TagUnregister, TagUnregistered, TagInvocation, TagInterrupt, TagYield:
		return nil, &NotImplementedError{Tag: tag}
	}
	return nil, &UnknownTagError{Tag: tag}
}

// EncodeFrame serializes a message to one wire frame.
func EncodeFrame(m Message) ([]byte, error) {
	data, err := json.Marshal(Encode(m))
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", m, err)
	}
	return data, nil
}

// DecodeFrame parses one wire frame into a message. Numbers are decoded via
// json.Number so 64-bit ids survive intact.
func DecodeFrame(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Decode(items)
}

// stringField extracts the string at position i, failing with missing if the
// field is absent.
func stringField(fields []any, i int, missing error) (string, error) {
	if i >= len(fields) {
		return "", missing
	}
	s, ok := fields[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: field %d", ErrWrongPayloadType, i)
	}
	return s, nil
}

func dictField(fields []any, i int, missing error) (map[string]any, error) {
	if i >= len(fields) {
		return nil, missing
	}
	m, ok := fields[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %d", ErrWrongPayloadType, i)
	}
	return m, nil
}

func idField(fields []any, i int, missing error) (int64, error) {
	if i >= len(fields) {
		return 0, missing
	}
	n, err := asID(fields[i])
	if err != nil {
		return 0, fmt.Errorf("%w: field %d", ErrWrongPayloadType, i)
	}
	return n, nil
}

// payloadTail extracts the optional args/kwargs tail starting at position i.
// Valid shapes: nothing, args only, or args followed by kwargs.
func payloadTail(fields []any, i int) ([]any, map[string]any, error) {
	var args []any
	var kwargs map[string]any
	if i < len(fields) {
		a, ok := fields[i].([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: field %d", ErrWrongPayloadType, i)
		}
		args = a
	}
	if i+1 < len(fields) {
		k, ok := fields[i+1].(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: field %d", ErrWrongPayloadType, i+1)
		}
		kwargs = k
	}
	return args, kwargs, nil
}

// asID converts the integer representations json decoding and in-process
// construction can produce. Non-integral values are rejected.
func asID(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integral number %v", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
