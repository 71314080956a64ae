// Package protocol defines the WAMP v2 message set and its wire codec.
//
// Every protocol message travels as a single WebSocket text frame containing
// the JSON serialization of an array [tag, field1, field2, ...], where the
// leading integer tag identifies the message kind and the remaining elements
// are positional fields whose shape is fixed per kind.
package protocol

import "fmt"

// Tag is the numeric message-kind identifier carried as the first element of
// every wire message. The values are fixed by the WAMP specification.
type Tag int

const (
	TagHello        Tag = 1
	TagWelcome      Tag = 2
	TagAbort        Tag = 3
	TagChallenge    Tag = 4
	TagAuthenticate Tag = 5
	TagGoodbye      Tag = 6
	TagError        Tag = 8
	TagPublish      Tag = 16
	TagPublished    Tag = 17
	TagSubscribe    Tag = 32
	TagSubscribed   Tag = 33
	TagUnsubscribe  Tag = 34
	TagUnsubscribed Tag = 35
	TagEvent        Tag = 36
	TagCall         Tag = 48
	TagCancel       Tag = 49
	TagResult       Tag = 50
	TagRegister     Tag = 64
	TagRegistered   Tag = 65
	TagUnregister   Tag = 66
	TagUnregistered Tag = 67
	TagInvocation   Tag = 68
	TagInterrupt    Tag = 69
	TagYield        Tag = 70
)

var tagNames = map[Tag]string{
	TagHello:        "hello",
	TagWelcome:      "welcome",
	TagAbort:        "abort",
	TagChallenge:    "challenge",
	TagAuthenticate: "authenticate",
	TagGoodbye:      "goodbye",
	TagError:        "error",
	TagPublish:      "publish",
	TagPublished:    "published",
	TagSubscribe:    "subscribe",
	TagSubscribed:   "subscribed",
	TagUnsubscribe:  "unsubscribe",
	TagUnsubscribed: "unsubscribed",
	TagEvent:        "event",
	TagCall:         "call",
	TagCancel:       "cancel",
	TagResult:       "result",
	TagRegister:     "register",
	TagRegistered:   "registered",
	TagUnregister:   "unregister",
	TagUnregistered: "unregistered",
	TagInvocation:   "invocation",
	TagInterrupt:    "interrupt",
	TagYield:        "yield",
}

// String returns the lowercase protocol name of the tag, or its decimal
// value for tags outside the message set.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("%d", int(t))
}

// Message is a decoded protocol message. The set of implementations is
// closed; dispatch sites type-switch over the variants below.
type Message interface {
	Tag() Tag
	// sealed prevents implementations outside this package so that every
	// type switch over Message stays exhaustive.
	sealed()
}

// Hello opens a session within a realm. Details carries the client agent
// string, the advertised roles, and any opaque authentication fields.
type Hello struct {
	Realm   string
	Details map[string]any
}

// Welcome is the router's reply to Hello, assigning the session id.
type Welcome struct {
	SessionID int64
	Details   map[string]any
}

// Goodbye closes a session. Either peer may send it; the receiver answers
// with a Goodbye carrying ReasonGoodbyeAndOut.
type Goodbye struct {
	Details map[string]any
	Reason  string
}

// Error reports a failed request. RequestType and RequestID identify the
// request being answered; URI is the error identifier (e.g.
// "wamp.error.not_authorized"). Args and Kwargs are optional payload tails.
type Error struct {
	RequestType Tag
	RequestID   int64
	Details     map[string]any
	URI         string
	Args        []any
	Kwargs      map[string]any
}

// Subscribe asks the router to deliver events for a topic.
type Subscribe struct {
	RequestID int64
	Options   map[string]any
	Topic     string
}

// Subscribed confirms a Subscribe request and assigns the subscription id
// under which events will be delivered.
type Subscribed struct {
	RequestID      int64
	SubscriptionID int64
}

// Unsubscribe asks the router to stop delivering events for a subscription.
type Unsubscribe struct {
	RequestID      int64
	SubscriptionID int64
}

// Unsubscribed confirms an Unsubscribe request.
type Unsubscribed struct {
	RequestID int64
}

// Event delivers one publication to a subscriber. Args and Kwargs are
// optional payload tails.
type Event struct {
	SubscriptionID int64
	PublicationID  int64
	Details        map[string]any
	Args           []any
	Kwargs         map[string]any
}

func (Hello) Tag() Tag        { return TagHello }
func (Welcome) Tag() Tag      { return TagWelcome }
func (Goodbye) Tag() Tag      { return TagGoodbye }
func (Error) Tag() Tag        { return TagError }
func (Subscribe) Tag() Tag    { return TagSubscribe }
func (Subscribed) Tag() Tag   { return TagSubscribed }
func (Unsubscribe) Tag() Tag  { return TagUnsubscribe }
func (Unsubscribed) Tag() Tag { return TagUnsubscribed }
func (Event) Tag() Tag        { return TagEvent }

func (Hello) sealed()        {}
func (Welcome) sealed()      {}
func (Goodbye) sealed()      {}
func (Error) sealed()        {}
func (Subscribe) sealed()    {}
func (Subscribed) sealed()   {}
func (Unsubscribe) sealed()  {}
func (Unsubscribed) sealed() {}
func (Event) sealed()        {}

// Standard close reasons.
const (
	ReasonCloseRealm    = "wamp.close.close_realm"
	ReasonGoodbyeAndOut = "wamp.close.goodbye_and_out"
)
