package domain

import (
	"sort"
	"time"
)

// LotDraw описывает списание из одной партии баллов
type LotDraw struct {
	LotID     int64 `json:"lot_id"`
	Quantity  int64 `json:"quantity"`
	Remaining int64 `json:"remaining"`
}

// ConsumptionPlan описывает полное списание баллов по партиям
type ConsumptionPlan struct {
	UserID int64        `json:"user_id"`
	Total  int64        `json:"total"`
	Draws  []LotDraw    `json:"draws"`
	Entry  *LedgerEntry `json:"entry,omitempty"`
}

// SumLots возвращает сумму баллов в непросроченных по флагу партиях
func SumLots(lots []*PointLot) int64 {
	var total int64
	for _, lot := range lots {
		if !lot.Expired {
			total += lot.Quantity
		}
	}
	return total
}

// AvailableAt возвращает сумму баллов, доступных к списанию на момент now
func AvailableAt(lots []*PointLot, now time.Time) int64 {
	var total int64
	for _, lot := range lots {
		if !lot.Expired && lot.ExpiresAt.After(now) {
			total += lot.Quantity
		}
	}
	return total
}

// PlanConsumption подбирает партии для списания amount баллов.
// Партии расходуются жадно, начиная с ближайшего срока действия.
// Если доступных баллов не хватает, план не строится вовсе.
func PlanConsumption(lots []*PointLot, amount int64, now time.Time) ([]LotDraw, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	usable := make([]*PointLot, 0, len(lots))
	for _, lot := range lots {
		if !lot.Expired && lot.Quantity > 0 && lot.ExpiresAt.After(now) {
			usable = append(usable, lot)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].ExpiresAt.Equal(usable[j].ExpiresAt) {
			return usable[i].ID < usable[j].ID
		}
		return usable[i].ExpiresAt.Before(usable[j].ExpiresAt)
	})

	if AvailableAt(usable, now) < amount {
		return nil, ErrInsufficientBalance
	}

	remaining := amount
	draws := make([]LotDraw, 0, len(usable))
	for _, lot := range usable {
		if remaining == 0 {
			break
		}
		take := lot.Quantity
		if take > remaining {
			take = remaining
		}
		draws = append(draws, LotDraw{
			LotID:     lot.ID,
			Quantity:  take,
			Remaining: lot.Quantity - take,
		})
		remaining -= take
	}

	return draws, nil
}
