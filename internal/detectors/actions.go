package detectors

// actionCatalog carries the built-in suggested-action strings per kind.
// This is data, not logic.
var actionCatalog = map[Kind][]string{
	KindExpenseSpike: {
		"Review today's expense entries for duplicate or erroneous amounts",
		"Confirm large purchases were pre-approved",
		"Check whether a recurring vendor payment landed early",
		"Compare against the category breakdown for the week",
	},
	KindRevenueDecline: {
		"Check for delayed or unrecorded invoices",
		"Review the sales pipeline for the affected period",
		"Confirm no approved transactions are stuck pending",
		"Compare against seasonal patterns from prior months",
	},
	KindCashflowWarning: {
		"Review upcoming payables against available cash",
		"Identify discretionary expenses that can be deferred",
		"Accelerate collection on outstanding receivables",
		"Escalate to finance if the run exceeds one week",
	},
	KindTargetVariance: {
		"Reforecast the remaining days of the month",
		"Identify which categories are driving the variance",
		"Flag the variance to the budget owner",
		"Adjust the monthly target if it no longer reflects reality",
	},
	KindEmployeeInactivity: {
		"Confirm the employee is still active and has system access",
		"Check for a backlog of unsubmitted transactions",
		"Follow up directly if inactivity is unexpected",
	},
}
