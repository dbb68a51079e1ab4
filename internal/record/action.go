// Package record implements the action record of spec §4.4: an
// append-only log of the observable actions produced by the live stream
// since the outermost open block began, used to replay the live stream
// against an alternate recorded iteration.
package record

// Kind distinguishes the three action shapes an action record entry can
// take, mirroring the three observable operations a channel exposes.
type Kind int

const (
	// MsgKind is a message emitted at the current top-of-stack prefix.
	MsgKind Kind = iota
	// OpenKind is a block-open at a fully qualified prefix.
	OpenKind
	// CloseKind is a block-close at a fully qualified prefix.
	CloseKind
)

func (k Kind) String() string {
	switch k {
	case MsgKind:
		return "msg"
	case OpenKind:
		return "open"
	case CloseKind:
		return "close"
	default:
		return "unknown"
	}
}

// Action is a single action record entry (spec §3: "a tagged value").
// Prefix is populated for Open/Close; Text is populated for Msg.
type Action struct {
	Kind   Kind
	Text   string
	Prefix string
}

// Msg constructs a message action.
func Msg(text string) Action { return Action{Kind: MsgKind, Text: text} }

// Open constructs a block-open action.
func Open(prefix string) Action { return Action{Kind: OpenKind, Prefix: prefix} }

// Close constructs a block-close action.
func Close(prefix string) Action { return Action{Kind: CloseKind, Prefix: prefix} }
