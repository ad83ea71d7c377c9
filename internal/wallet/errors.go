package wallet

import "github.com/congo-pay/wallet-core/internal/apperr"

var (
	// ErrOwnerIDRequired occurs when a wallet is requested without an owner.
	ErrOwnerIDRequired = apperr.New(apperr.KindInvalidArgument, "OWNER_ID_REQUIRED", "ownerId is required")

	// ErrCampaignIDRequired occurs when a reservation has no campaign.
	ErrCampaignIDRequired = apperr.New(apperr.KindInvalidArgument, "CAMPAIGN_ID_REQUIRED", "campaignId is required")

	// ErrReferenceIDRequired occurs when a credit has no payment reference.
	ErrReferenceIDRequired = apperr.New(apperr.KindInvalidArgument, "REFERENCE_ID_REQUIRED", "referenceId is required")

	// ErrAmountRequired occurs when a movement request omits amountOre.
	ErrAmountRequired = apperr.New(apperr.KindInvalidArgument, "AMOUNT_REQUIRED", "amountOre is required")

	// ErrInvalidAmount occurs when a movement amount is not a positive integer.
	ErrInvalidAmount = apperr.New(apperr.KindInvalidArgument, "INVALID_AMOUNT", "amountOre must be > 0")

	// ErrCurrencyMismatch occurs when a credit names a currency other than the wallet's.
	ErrCurrencyMismatch = apperr.New(apperr.KindInvalidArgument, "CURRENCY_MISMATCH", "currency does not match wallet currency")

	// ErrWalletNotFound occurs when the wallet does not exist.
	ErrWalletNotFound = apperr.New(apperr.KindNotFound, "WALLET_NOT_FOUND", "Wallet not found")

	// ErrReservationNotFound occurs when the reservation is absent or belongs to another wallet.
	ErrReservationNotFound = apperr.New(apperr.KindNotFound, "RESERVATION_NOT_FOUND", "Reservation not found for this wallet")

	// ErrWalletExists occurs when the owner already holds a wallet in the currency.
	ErrWalletExists = apperr.New(apperr.KindConflict, "WALLET_EXISTS", "Wallet already exists for this owner/currency")

	// ErrInsufficientFunds occurs when available funds cannot cover a reservation.
	ErrInsufficientFunds = apperr.New(apperr.KindConflict, "INSUFFICIENT_FUNDS", "Insufficient available balance")

	// ErrReservationNotActive occurs when a terminal reservation is released or settled again.
	ErrReservationNotActive = apperr.New(apperr.KindConflict, "RESERVATION_NOT_ACTIVE", "Reservation is not ACTIVE")

	// ErrReservedInconsistent occurs when the reserved pool cannot cover a reservation it should contain.
	ErrReservedInconsistent = apperr.New(apperr.KindConflict, "RESERVED_INCONSISTENT", "Reserved balance is less than reservation amount (data inconsistency)")

	// ErrEventAlreadyProcessed occurs when an idempotency marker already exists.
	ErrEventAlreadyProcessed = apperr.New(apperr.KindConflict, "EVENT_ALREADY_PROCESSED", "event already processed")

	// ErrBalanceOutOfRange occurs when a credit would push the balance past money.MaxDigits digits.
	ErrBalanceOutOfRange = apperr.New(apperr.KindConflict, "BALANCE_OUT_OF_RANGE", "credit would exceed the maximum wallet balance")

	// ErrStoreRejected wraps SQLSTATE class 22 data exceptions such as numeric overflow.
	ErrStoreRejected = apperr.New(apperr.KindInvalidArgument, "STORE_REJECTED", "value rejected by the store")

	// ErrStoreConstraint wraps SQLSTATE class 23 integrity violations not mapped to a domain error.
	ErrStoreConstraint = apperr.New(apperr.KindConflict, "STORE_CONSTRAINT", "store constraint violated")

	// ErrStoreContention wraps lock timeouts, deadlocks and serialization failures.
	ErrStoreContention = apperr.New(apperr.KindTransient, "STORE_CONTENTION", "wallet is busy, retry later")
)
