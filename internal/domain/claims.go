package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// MaxClaimAmount - наибольшая сумма покупки, принимаемая в заявке
const MaxClaimAmount = 100_000_000

// ValidAmount сообщает, что сумма конечна, положительна и не больше MaxClaimAmount.
// NaN и бесконечности не проходят ни одно из сравнений.
func ValidAmount(amount float64) bool {
	return amount > 0 && amount <= MaxClaimAmount
}

// Cents переводит денежную сумму в целое число сотых долей
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// PointsFor возвращает количество баллов за покупку: сумма делится на divisor с отбрасыванием остатка.
// Для недопустимой суммы возвращается 0.
func PointsFor(amount float64, divisor int64) int64 {
	if divisor <= 0 || !ValidAmount(amount) {
		return 0
	}
	return Cents(amount) / (divisor * 100)
}

// RequestHash вычисляет отпечаток заявки для аудита
func RequestHash(userID, storeID int64, orderID string, amount float64, purchasedAt time.Time) string {
	data := fmt.Sprintf("%d_%d_%s_%d_%s", userID, storeID, orderID, Cents(amount), purchasedAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// CanTransition проверяет допустимость перехода заявки между статусами
func (s ClaimStatus) CanTransition(to ClaimStatus) bool {
	switch s {
	case ClaimPending:
		return to == ClaimApproved || to == ClaimRejected
	case ClaimApproved:
		return to == ClaimCompleted || to == ClaimFailed || to == ClaimPending
	}
	return false
}

// Terminal сообщает, является ли статус перевода конечным
func (s TransferStatus) Terminal() bool {
	return s != TransferPending
}
