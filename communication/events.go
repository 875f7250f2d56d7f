package communication

// Event types pushed to websocket observers.
const (
	EventProposalSent     = "PROPOSAL_SENT"
	EventAgreementReached = "AGREEMENT_REACHED"
	EventSessionAbandoned = "SESSION_ABANDONED"
	EventProtectRejected  = "PROTECT_REJECTED"
	EventSessionOutcome   = "SESSION_OUTCOME"
)

// EventTypeFor maps a terminal session state to its websocket event type.
func EventTypeFor(state string) string {
	switch state {
	case "proposed":
		return EventProposalSent
	case "agreed":
		return EventAgreementReached
	case "abandoned":
		return EventSessionAbandoned
	case "rejected":
		return EventProtectRejected
	default:
		return EventSessionOutcome
	}
}
