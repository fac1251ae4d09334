package warranty

import "time"

// Trigger names a requested lifecycle transition.
type Trigger string

const (
	TriggerSubmitClaim         Trigger = "submit_claim"
	TriggerRequestManualReview Trigger = "request_manual_review"
	TriggerStartInspection     Trigger = "start_inspection"
	TriggerCompleteInspection  Trigger = "complete_inspection"
	TriggerSupplierAction      Trigger = "supplier_action"
	TriggerMarkResolved        Trigger = "mark_resolved"
)

// Next computes the status a warranty moves to when trigger fires, evaluating
// time guards against now. The qualifier carries the trigger argument where
// the target depends on it: the inspection outcome for complete_inspection,
// the supplier action for supplier_action, empty otherwise. A request outside
// the transition table fails with a TransitionError wrapping
// ErrInvalidTransition.
func Next(w Warranty, trigger Trigger, qualifier string, now time.Time) (Status, error) {
	fail := func() (Status, error) {
		return "", &TransitionError{Current: w.EffectiveStatus(now), Trigger: trigger}
	}

	switch trigger {
	case TriggerSubmitClaim:
		if !w.CanClaim(now) {
			return fail()
		}
		return StatusClaimed, nil

	case TriggerRequestManualReview:
		if !w.CanRequestManualReview(now) {
			return fail()
		}
		return StatusUnderInspection, nil

	case TriggerStartInspection:
		if w.Status != StatusClaimed {
			return fail()
		}
		return StatusUnderInspection, nil

	case TriggerCompleteInspection:
		if w.Status != StatusUnderInspection {
			return fail()
		}
		switch InspectionOutcome(qualifier) {
		case OutcomeCustomerFault:
			return StatusClosed, nil
		case OutcomeCovered:
			return StatusReplacementPending, nil
		case OutcomeSupplierFault:
			return StatusDeclined, nil
		}
		return fail()

	case TriggerSupplierAction:
		if w.Status != StatusDeclined {
			return fail()
		}
		switch SupplierAction(qualifier) {
		case SupplierReplacementSent, SupplierRepairSent:
			return StatusReplacementPending, nil
		case SupplierCashRefundOffered, SupplierPartialRefund:
			return StatusRefunded, nil
		case SupplierDeclined:
			return StatusClosed, nil
		}
		return fail()

	case TriggerMarkResolved:
		if w.Status != StatusReplacementPending {
			return fail()
		}
		return StatusReplaced, nil
	}

	return fail()
}
