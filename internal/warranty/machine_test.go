package warranty

import (
	"errors"
	"testing"
	"time"
)

func warrantyAt(status Status, expiry time.Time) Warranty {
	return Warranty{
		ID:         "w1",
		TenantID:   "t1",
		Status:     status,
		ExpiryDate: expiry,
	}
}

func TestTransitionTable(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 6, 0)
	past := now.AddDate(0, -1, 0)

	cases := []struct {
		name      string
		from      Status
		expiry    time.Time
		trigger   Trigger
		qualifier string
		want      Status
		wantErr   bool
	}{
		{"claim in window", StatusActive, future, TriggerSubmitClaim, "", StatusClaimed, false},
		{"claim out of window", StatusActive, past, TriggerSubmitClaim, "", "", true},
		{"manual review after expiry", StatusActive, past, TriggerRequestManualReview, "", StatusUnderInspection, false},
		{"manual review in window", StatusActive, future, TriggerRequestManualReview, "", "", true},
		{"start inspection", StatusClaimed, future, TriggerStartInspection, "", StatusUnderInspection, false},
		{"start inspection from active", StatusActive, future, TriggerStartInspection, "", "", true},
		{"customer fault closes", StatusUnderInspection, future, TriggerCompleteInspection, "customer_fault", StatusClosed, false},
		{"covered queues replacement", StatusUnderInspection, future, TriggerCompleteInspection, "covered", StatusReplacementPending, false},
		{"supplier fault declines", StatusUnderInspection, future, TriggerCompleteInspection, "supplier_fault", StatusDeclined, false},
		{"unknown outcome", StatusUnderInspection, future, TriggerCompleteInspection, "maybe", "", true},
		{"replacement sent", StatusDeclined, future, TriggerSupplierAction, "replacement_sent", StatusReplacementPending, false},
		{"repair sent", StatusDeclined, future, TriggerSupplierAction, "repair_sent", StatusReplacementPending, false},
		{"cash refund", StatusDeclined, future, TriggerSupplierAction, "cash_refund_offered", StatusRefunded, false},
		{"partial refund", StatusDeclined, future, TriggerSupplierAction, "partial_refund", StatusRefunded, false},
		{"supplier declines", StatusDeclined, future, TriggerSupplierAction, "declined", StatusClosed, false},
		{"supplier action from claimed", StatusClaimed, future, TriggerSupplierAction, "declined", "", true},
		{"mark resolved", StatusReplacementPending, future, TriggerMarkResolved, "", StatusReplaced, false},
		{"mark resolved from refunded", StatusRefunded, future, TriggerMarkResolved, "", "", true},
		{"no transition from replaced", StatusReplaced, future, TriggerSubmitClaim, "", "", true},
		{"no transition from closed", StatusClosed, future, TriggerStartInspection, "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(warrantyAt(tc.from, tc.expiry), tc.trigger, tc.qualifier, now)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransitionErrorCarriesCurrentStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := Next(warrantyAt(StatusClaimed, now.AddDate(1, 0, 0)), TriggerSubmitClaim, "", now)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if terr.Current != StatusClaimed {
		t.Fatalf("unexpected current status: %q", terr.Current)
	}
}

func TestEffectiveStatusAndEligibility(t *testing.T) {
	expiry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := warrantyAt(StatusActive, expiry)

	// Exactly at expiry the warranty is still claimable.
	if !w.CanClaim(expiry) {
		t.Fatal("expected can_claim at expiry instant")
	}
	if w.EffectiveStatus(expiry) != StatusActive {
		t.Fatal("expected active at expiry instant")
	}

	after := expiry.Add(time.Second)
	if w.CanClaim(after) {
		t.Fatal("expected can_claim to flip after expiry")
	}
	if !w.CanRequestManualReview(after) {
		t.Fatal("expected manual review eligibility after expiry")
	}
	if w.EffectiveStatus(after) != StatusExpired {
		t.Fatalf("expected derived expired, got %q", w.EffectiveStatus(after))
	}

	// Non-active statuses never derive expired.
	c := warrantyAt(StatusClaimed, expiry)
	if c.EffectiveStatus(after) != StatusClaimed {
		t.Fatal("claimed must not derive expired")
	}
}

func TestExpiryForCalendarArithmetic(t *testing.T) {
	purchase := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ExpiryFor(purchase, 12); !got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry: %v", got)
	}
	// Month-end overflow follows AddDate semantics.
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := ExpiryFor(jan31, 1); !got.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry: %v", got)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusReplaced, StatusRefunded, StatusClosed} {
		if !s.IsTerminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	for _, s := range []Status{StatusActive, StatusClaimed, StatusUnderInspection, StatusReplacementPending, StatusDeclined} {
		if s.IsTerminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}
