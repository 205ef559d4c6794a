package lifecycle

import "github.com/jredh-dev/goodwill/pkg/models"

// transitions is the closed set of legal donation status edges. Terminal
// statuses have no entry.
var transitions = map[models.DonationStatus][]models.DonationStatus{
	models.StatusOffered:   {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:  {models.StatusInTransit, models.StatusCancelled},
	models.StatusInTransit: {models.StatusDelivered, models.StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.DonationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s models.DonationStatus) []models.DonationStatus {
	next := transitions[s]
	out := make([]models.DonationStatus, len(next))
	copy(out, next)
	return out
}

// ValidWalk reports whether statuses, read in order, start at OFFERED and
// only follow legal edges.
func ValidWalk(statuses []models.DonationStatus) bool {
	if len(statuses) == 0 || statuses[0] != models.StatusOffered {
		return false
	}
	for i := 1; i < len(statuses); i++ {
		if !CanTransition(statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}
