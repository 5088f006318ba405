// Package policy holds the single authorization check used by every booking
// operation.
package policy

import "github.com/Shivanand-hulikatti/event-booking-engine/internal/model"

// Action names an operation subject to authorization.
type Action string

const (
	ActionReserve         Action = "booking:reserve"
	ActionCancelBooking   Action = "booking:cancel"
	ActionViewBooking     Action = "booking:view"
	ActionListOwnBookings Action = "booking:list_own"
	ActionListAllBookings Action = "booking:list_all"
	ActionAuditInventory  Action = "inventory:audit"
)

// Check returns nil when requester may perform action on a resource owned by
// ownerID, model.ErrUnauthorized for an anonymous requester and
// model.ErrForbidden otherwise.
func Check(action Action, requester model.Requester, ownerID string) error {
	if requester.UserID == "" {
		return model.ErrUnauthorized
	}
	if requester.IsAdmin() {
		return nil
	}

	switch action {
	case ActionReserve, ActionListOwnBookings:
		if ownerID == "" || ownerID == requester.UserID {
			return nil
		}
	case ActionCancelBooking, ActionViewBooking:
		if ownerID != "" && ownerID == requester.UserID {
			return nil
		}
	case ActionAuditInventory:
		if requester.Role == model.RoleOrganizer {
			return nil
		}
	}
	return model.ErrForbidden
}

// Allowed is Check as a boolean.
func Allowed(action Action, requester model.Requester, ownerID string) bool {
	return Check(action, requester, ownerID) == nil
}
