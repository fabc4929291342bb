package booking

import "github.com/paidcall/backend/internal/models"

var transitions = map[models.BookingStatus]map[models.BookingStatus]struct{}{
	models.BookingDraft: {
		models.BookingRequested: {},
		models.BookingCancelled: {},
	},
	models.BookingRequested: {
		models.BookingAccepted:  {},
		models.BookingCancelled: {},
		models.BookingRefunded:  {},
	},
	models.BookingAccepted: {
		models.BookingCompletedPendingFeedback: {},
		models.BookingCancelled:                {},
		models.BookingRefunded:                 {},
	},
	models.BookingCompletedPendingFeedback: {
		models.BookingCompleted: {},
		models.BookingCancelled: {},
		models.BookingRefunded:  {},
	},
	models.BookingCompleted: {},
	models.BookingCancelled: {},
	models.BookingRefunded:  {},
}

// CanTransition reports whether a booking in from may move to to. Staying
// in the same status is not a transition.
func CanTransition(from, to models.BookingStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
