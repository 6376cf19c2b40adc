package domain

import "time"

// AutoChargeRule представляет правило автоматического пополнения депозита магазина
type AutoChargeRule struct {
	StoreID         int64      `json:"store_id"`
	Enabled         bool       `json:"enabled"`
	TriggerAmount   int64      `json:"trigger_amount"`
	ChargeAmount    int64      `json:"charge_amount"`
	PaymentMethod   string     `json:"payment_method"`
	PaymentRef      string     `json:"payment_ref,omitempty"`
	DailyCap        int64      `json:"daily_cap"`   // 0 - без ограничения
	MonthlyCap      int64      `json:"monthly_cap"` // 0 - без ограничения
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// AutoChargeDecision описывает результат проверки правила автопополнения
type AutoChargeDecision string

const (
	AutoChargeFire         AutoChargeDecision = "fire"
	AutoChargeDisabled     AutoChargeDecision = "disabled"
	AutoChargeAboveTrigger AutoChargeDecision = "above_trigger"
	AutoChargeDailyCap     AutoChargeDecision = "daily_cap"
	AutoChargeMonthlyCap   AutoChargeDecision = "monthly_cap"
)

// Evaluate решает, нужно ли пополнять депозит.
// chargedToday и chargedThisMonth - суммы уже выполненных автопополнений (с комиссией).
func (r *AutoChargeRule) Evaluate(balance, chargedToday, chargedThisMonth int64) AutoChargeDecision {
	if r == nil || !r.Enabled {
		return AutoChargeDisabled
	}
	if balance >= r.TriggerAmount {
		return AutoChargeAboveTrigger
	}
	if r.DailyCap > 0 && chargedToday+r.ChargeAmount > r.DailyCap {
		return AutoChargeDailyCap
	}
	if r.MonthlyCap > 0 && chargedThisMonth+r.ChargeAmount > r.MonthlyCap {
		return AutoChargeMonthlyCap
	}
	return AutoChargeFire
}

// DayStart возвращает начало суток для t в его часовом поясе
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthStart возвращает начало месяца для t в его часовом поясе
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
