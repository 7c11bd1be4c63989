// Package status defines the UI application status vocabulary, the GAS
// status vocabulary and the total mapping between them.
package status

import "strings"

// Application is the UI-facing application status.
type Application string

const (
	// None means no submission has happened yet (absence of state).
	None      Application = ""
	Submitted Application = "SUBMITTED"
	// Reopened means amendments were requested on a submitted application.
	Reopened Application = "REOPENED"
	// Cleared means the application was withdrawn. Terminal.
	Cleared Application = "CLEARED"
)

// Parse converts a stored value into an Application status. Unknown values
// map to None.
func Parse(s string) Application {
	switch Application(strings.ToUpper(strings.TrimSpace(s))) {
	case Submitted:
		return Submitted
	case Reopened:
		return Reopened
	case Cleared:
		return Cleared
	default:
		return None
	}
}

func (a Application) String() string {
	if a == None {
		return "NONE"
	}
	return string(a)
}

// GAS is a status reported by the grant processing system.
type GAS string

const (
	GASReceived             GAS = "RECEIVED"
	GASOfferSent            GAS = "OFFER_SENT"
	GASOfferWithdrawn       GAS = "OFFER_WITHDRAWN"
	GASOfferAccepted        GAS = "OFFER_ACCEPTED"
	GASAwaitingAmendments   GAS = "AWAITING_AMENDMENTS"
	GASApplicationWithdrawn GAS = "APPLICATION_WITHDRAWN"
)

// KnownGAS lists every GAS status with an explicit mapping.
var KnownGAS = []GAS{
	GASReceived,
	GASOfferSent,
	GASOfferWithdrawn,
	GASOfferAccepted,
	GASAwaitingAmendments,
	GASApplicationWithdrawn,
}

// FromGAS maps a GAS status onto the UI vocabulary. Anything unrecognised is
// treated as SUBMITTED: an unknown status still means GAS holds the
// application.
func FromGAS(s GAS) Application {
	switch GAS(strings.ToUpper(strings.TrimSpace(string(s)))) {
	case GASReceived, GASOfferSent, GASOfferWithdrawn, GASOfferAccepted:
		return Submitted
	case GASAwaitingAmendments:
		return Reopened
	case GASApplicationWithdrawn:
		return Cleared
	default:
		return Submitted
	}
}
