package model

var tuitionTransitions = map[TuitionStatus][]TuitionStatus{
	TuitionPending: {TuitionApproved, TuitionRejected},
}

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationPending: {ApplicationApproved, ApplicationRejected},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed},
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionCompleted, SessionCancelled},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is a legal tuition change.
func (from TuitionStatus) CanTransition(to TuitionStatus) bool {
	return allowed(tuitionTransitions, from, to)
}

// CanTransition reports whether from -> to is a legal application change.
func (from ApplicationStatus) CanTransition(to ApplicationStatus) bool {
	return allowed(applicationTransitions, from, to)
}

// CanTransition reports whether from -> to is a legal payment change.
func (from PaymentStatus) CanTransition(to PaymentStatus) bool {
	return allowed(paymentTransitions, from, to)
}

// CanTransition reports whether from -> to is a legal session change.
func (from SessionStatus) CanTransition(to SessionStatus) bool {
	return allowed(sessionTransitions, from, to)
}

// Terminal reports whether no transition leaves s.
func (s SessionStatus) Terminal() bool { return len(sessionTransitions[s]) == 0 }
