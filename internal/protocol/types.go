package protocol

import (
	"fmt"
	"reflect"
	"strconv"
)

// Action names recognized on lines coming from the worker.
const (
	ActionBroadcast       = "broadcast"
	ActionSendMessage     = "sendMessage"
	ActionConsole         = "console"
	ActionExecuteCommand  = "executeCommand"
	ActionDispatchCommand = "dispatchCommand" // emitted by the C++ worker API header
)

// ShutdownEvent is the event name of the sentinel written before stdin closes.
const ShutdownEvent = "shutdown"

// Event is one host occurrence forwarded to the worker.
type Event struct {
	Name string   `json:"event"`
	Args []string `json:"args"`
}

// NewEvent builds an Event, stringifying each argument.
func NewEvent(name string, args ...any) Event {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Stringify(a)
	}
	return Event{Name: name, Args: out}
}

// Stringify renders a host value the way the worker expects it.
// nil, including a typed nil pointer, becomes the literal "null".
func Stringify(v any) string {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return "null"
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Message is a decoded line from the worker. The concrete types form a
// closed set; callers switch on them.
type Message interface {
	Action() string
}

// Broadcast delivers Text to every connected recipient.
type Broadcast struct {
	Text string
}

// DirectMessage delivers Text to the single recipient named Player.
type DirectMessage struct {
	Player string
	Text   string
}

// Console is an informational line for the host log.
type Console struct {
	Text string
}

// ExecuteCommand asks the host to run Command with console privileges.
type ExecuteCommand struct {
	Command string
	Sync    bool
	// Alias records that the worker used the dispatchCommand spelling.
	Alias bool
}

// Unknown carries an action the bridge does not understand.
type Unknown struct {
	Name string
	Raw  []byte
}

func (Broadcast) Action() string     { return ActionBroadcast }
func (DirectMessage) Action() string { return ActionSendMessage }
func (Console) Action() string       { return ActionConsole }
func (m ExecuteCommand) Action() string {
	if m.Alias {
		return ActionDispatchCommand
	}
	return ActionExecuteCommand
}
func (m Unknown) Action() string { return m.Name }
