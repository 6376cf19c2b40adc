package domain

// PaymentResult - результат оплаты баллов магазином.
// Реализации: CardPayment, DepositPayment, PaymentFailure.
type PaymentResult interface {
	isPaymentResult()
}

// CardPayment - успешное списание с карты магазина через платежный шлюз
type CardPayment struct {
	PaymentID string
	Amount    int64
	Attempts  int
}

// DepositPayment - успешное списание с депозита магазина
type DepositPayment struct {
	Transaction *DepositTransaction
}

// PaymentFailure - оба способа оплаты не сработали
type PaymentFailure struct {
	CardErr    error
	DepositErr error
}

func (CardPayment) isPaymentResult()    {}
func (DepositPayment) isPaymentResult() {}
func (PaymentFailure) isPaymentResult() {}

// Error возвращает описание отказа
func (f PaymentFailure) Error() string {
	msg := ErrPaymentFailed.Error()
	if f.CardErr != nil {
		msg += ": card: " + f.CardErr.Error()
	}
	if f.DepositErr != nil {
		msg += ": deposit: " + f.DepositErr.Error()
	}
	return msg
}

// Unwrap позволяет сопоставлять отказ с ErrPaymentFailed и причинами
func (f PaymentFailure) Unwrap() []error {
	errs := []error{ErrPaymentFailed}
	if f.CardErr != nil {
		errs = append(errs, f.CardErr)
	}
	if f.DepositErr != nil {
		errs = append(errs, f.DepositErr)
	}
	return errs
}

// Method возвращает способ оплаты для успешного результата
func Method(r PaymentResult) PaymentMethod {
	switch r.(type) {
	case CardPayment, *CardPayment:
		return PaymentCard
	case DepositPayment, *DepositPayment:
		return PaymentDeposit
	}
	return ""
}
