package models

// All lists every table the automation engine migrates, in dependency order.
func All() []interface{} {
	return []interface{}{
		&Sender{},
		&Template{},
		&Lead{},
		&LeadTag{},
		&CRMCampaignMember{},
		&TagCatalog{},
		&Sequence{},
		&SequenceStep{},
		&SequenceEnrollment{},
		&ScheduledSend{},
	}
}
