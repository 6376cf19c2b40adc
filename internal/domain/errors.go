package domain

import "errors"

// Ошибки пользователей и магазинов
var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStoreNotFound      = errors.New("store not found")
	ErrStoreInactive      = errors.New("store is not active")
	ErrWebhookKeyInvalid  = errors.New("webhook key is invalid")
	ErrForbidden          = errors.New("forbidden")
)

// Ошибки баланса и журнала
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrLotNotFound         = errors.New("point lot not found")
	ErrDepositTxNotFound   = errors.New("deposit transaction not found")
	ErrAlreadyRefunded     = errors.New("deposit transaction already refunded")
)

// Ошибки переводов
var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrSelfTransfer     = errors.New("cannot transfer points to yourself")
	ErrTransferExpired  = errors.New("transfer expired")
)

// Ошибки заявок и оплаты
var (
	ErrClaimNotFound          = errors.New("claim not found")
	ErrDuplicateOrder         = errors.New("order already submitted")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPaymentGateway         = errors.New("payment gateway error")
	ErrPaymentFailed          = errors.New("both card payment and deposit consumption failed")
	ErrReconciliationRequired = errors.New("payment taken but points not granted, reconciliation required")
	ErrFindingNotFound        = errors.New("duplicate finding not found")
	ErrReconciliationNotFound = errors.New("reconciliation item not found")
)

// Прочие ошибки
var (
	ErrRuleNotFound = errors.New("auto charge rule not found")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidInput = errors.New("invalid input")
)
