package model

import "testing"

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleCustomer, RoleShop, RoleDasher} {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	if Role("admin").Valid() {
		t.Error("Role(\"admin\").Valid() = true, want false")
	}
	if Role("").Valid() {
		t.Error("empty role reported valid")
	}
}

func TestStatusAwaiting(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusToShop, true},
		{StatusWaitingForDasher, true},
		{StatusPreparing, true},
		{StatusConfirmed, false},
		{StatusReadyForPickup, false},
		{StatusPickedUp, false},
		{StatusToCustomer, false},
		{StatusCompleted, false},
		{StatusCancelled, false},
	}

	for _, tt := range tests {
		if got := tt.status.Awaiting(); got != tt.want {
			t.Errorf("Status(%q).Awaiting() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed/cancelled should be terminal")
	}
	if StatusPickedUp.Terminal() {
		t.Error("picked up is not terminal")
	}
}
