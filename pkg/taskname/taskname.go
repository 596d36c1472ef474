package taskname

const (
	// Reward tasks
	RewardReconcile = "reward:reconcile"
	RewardSweep     = "reward:sweep"
)
