package astireader

type Status uint32

// Must be in order of execution
const (
	StatusCreated Status = iota
	StatusOpening
	StatusOpened
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusOpening:
		return "opening"
	case StatusOpened:
		return "opened"
	case StatusClosing:
		return "closing"
	default:
		return "closed"
	}
}
