package taskname

const (
	// Notification tasks
	NotifyAdmins = "notification:admins"
)

const (
	// Ledger tasks
	ReconcileUser = "ledger:reconcile"
)
