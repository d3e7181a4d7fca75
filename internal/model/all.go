package model

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&AuraEvent{},
		&Slice{},
		&SliceEvidence{},
		&EscrowPayment{},
		&Dispute{},
		&DisputeEvidence{},
		&Rating{},
		&PayoutBatch{},
		&PayoutEntry{},
	}
}
