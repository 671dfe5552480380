package overlay

import "github.com/chowlane/ordersync/internal/model"

// Override is a client-local display status layered on the authoritative one.
type Override string

const (
	OverrideNone           Override = ""
	OverridePreparing      Override = "preparing"
	OverrideReadyForPickup Override = "ready_for_pickup"
)

// Action is a user-triggerable forward transition. No backward transitions
// exist.
type Action string

const (
	// ActionAccept confirms a new order and asks the server for
	// active_waiting_for_dasher. Sets no override.
	ActionAccept Action = "accept"

	// ActionStartPreparing sets the preparing override and asks the server
	// for active_preparing.
	ActionStartPreparing Action = "start_preparing"

	// ActionReadyForPickup promotes preparing to ready_for_pickup and asks
	// the server for active_readyForPickup.
	ActionReadyForPickup Action = "ready_for_pickup"
)

// actionEffect describes what applying an action does.
type actionEffect struct {
	serverStatus model.Status // Status sent to the server
	override     Override     // Override after applying (OverrideNone clears)
}

var effects = map[Action]actionEffect{
	ActionAccept:         {serverStatus: model.StatusWaitingForDasher, override: OverrideNone},
	ActionStartPreparing: {serverStatus: model.StatusPreparing, override: OverridePreparing},
	ActionReadyForPickup: {serverStatus: model.StatusReadyForPickup, override: OverrideReadyForPickup},
}

// ActionsFor returns the transitions available for an order, as a fixed
// function of authoritative status and current override.
func ActionsFor(status model.Status, override Override) []Action {
	// ready_for_pickup is the end of the local flow; the dasher pickup flow
	// takes over from here.
	if override == OverrideReadyForPickup {
		return nil
	}

	switch status {
	case model.StatusConfirmed:
		if override == OverrideNone {
			return []Action{ActionAccept}
		}
	case model.StatusToShop, model.StatusWaitingForDasher:
		if override == OverrideNone {
			return []Action{ActionStartPreparing}
		}
		if override == OverridePreparing {
			return []Action{ActionReadyForPickup}
		}
	case model.StatusPreparing:
		if override == OverridePreparing {
			return []Action{ActionReadyForPickup}
		}
	}

	// active_readyForPickup, active_pickedUp, and terminal statuses offer
	// nothing from this component.
	return nil
}

// allowed reports whether action is currently offered.
func allowed(status model.Status, override Override, action Action) bool {
	for _, a := range ActionsFor(status, override) {
		if a == action {
			return true
		}
	}
	return false
}
