package contracts

// OutcomeKind identifies a terminal delivery state
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota + 1
	OutcomeAbandoned
	OutcomeDeadLettered
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeDeadLettered:
		return "deadlettered"
	default:
		return "unknown"
	}
}

// ReasonDeserializationFailed is the dead-letter reason for bodies that do
// not decode into the subscribed type.
const ReasonDeserializationFailed = "DeserializationFailed"

// Outcome is the terminal result of processing one received message
type Outcome struct {
	Kind        OutcomeKind
	Reason      string
	Description string
}

// Completed acknowledges successful processing
func Completed() Outcome {
	return Outcome{Kind: OutcomeCompleted}
}

// Abandoned releases the message back to the broker uncommitted
func Abandoned() Outcome {
	return Outcome{Kind: OutcomeAbandoned}
}

// DeadLettered moves the message to the broker's inspection destination
func DeadLettered(reason, description string) Outcome {
	return Outcome{Kind: OutcomeDeadLettered, Reason: reason, Description: description}
}

func (o Outcome) String() string {
	if o.Kind == OutcomeDeadLettered {
		return o.Kind.String() + "(" + o.Reason + ")"
	}
	return o.Kind.String()
}
