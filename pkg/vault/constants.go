package vault

const (
	operationAccrue          = "accrue"
	operationReward          = "reward"
	operationWithdrawRequest = "withdraw_request"
	operationWithdrawProcess = "withdraw_process"
	operationWithdrawAdjust  = "withdraw_adjust"
	operationAdminAdjust     = "admin_adjust"
	operationAdminSet        = "admin_set"
	operationSweep           = "sweep"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	reasonGamePlay        = "game_play"
	reasonRewardDelivery  = "reward_delivery"
	reasonWithdrawRequest = "withdraw_request"
	reasonWithdrawRefund  = "withdraw_refund"
	reasonWithdrawAdjust  = "withdraw_adjust"
	reasonAdminAdjust     = "admin_adjust"
	reasonAdminSet        = "admin_set"
	reasonVaultExpire     = "vault_expire"

	sourceGamePlay       = "game"
	sourceRewardDelivery = "reward"

	idempotencyKeyDelimiter = ":"
	idempotencyPrefixReward = "reward"
)
