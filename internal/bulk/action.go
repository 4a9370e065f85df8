package bulk

// ActionKind discriminates the two send action variants.
type ActionKind string

const (
	KindMessage ActionKind = "message"
	KindPoll    ActionKind = "poll"
)

// Action is one typed unit of work to send. The slice order produced by
// Parse is the send order; callers must not reorder it.
//
// The interface is sealed: MessageAction and PollAction are the only
// implementations, and the send boundary switches exhaustively over them.
type Action interface {
	Kind() ActionKind
	sealed()
}

// MessageAction sends plain text to a destination.
type MessageAction struct {
	Text string
}

func (MessageAction) Kind() ActionKind { return KindMessage }
func (MessageAction) sealed()          {}

// PollAction sends a multiple-choice poll.
//
// CorrectOption is a 0-based index into Options when an answer tag was
// present in the source block, and -1 otherwise (the poll is then sent as
// a regular, non-quiz poll). Explanation is non-empty only when an answer
// tag was present; Parse rejects explanation-without-answer.
type PollAction struct {
	Question      string
	Options       []string
	CorrectOption int
	Explanation   string
}

func (PollAction) Kind() ActionKind { return KindPoll }
func (PollAction) sealed()          {}

// Quiz reports whether the poll carries a marked correct option.
func (p PollAction) Quiz() bool { return p.CorrectOption >= 0 }
