package services

// PaymeError is a protocol error carried back to the gateway inside the
// JSON-RPC envelope. Message is localized the way Payme expects.
type PaymeError struct {
	Code    int               `json:"code"`
	Message map[string]string `json:"message"`
	Data    any               `json:"data,omitempty"`
}

func (e *PaymeError) Error() string {
	if msg, ok := e.Message["en"]; ok {
		return msg
	}
	return "payme error"
}

// WithData returns a copy of the error with the diagnostic data field set.
// Payme uses data to name the offending account field.
func (e *PaymeError) WithData(data any) *PaymeError {
	return &PaymeError{Code: e.Code, Message: e.Message, Data: data}
}

func paymeError(code int, uz, ru, en string) *PaymeError {
	return &PaymeError{
		Code: code,
		Message: map[string]string{
			"uz": uz,
			"ru": ru,
			"en": en,
		},
	}
}

// Error table mandated by the Payme Business API. -31050 deliberately covers
// both "order not found" and "order busy"; the gateway keys retries off this
// range and splitting it would break sandbox expectations.
var (
	ErrPaymeInvalidAmount = paymeError(-31001,
		"Noto'g'ri summa",
		"Недопустимая сумма",
		"Invalid amount")
	ErrPaymeTransactionNotFound = paymeError(-31003,
		"Tranzaksiya topilmadi",
		"Транзакция не найдена",
		"Transaction not found")
	ErrPaymeInvalidState = paymeError(-31008,
		"Tranzaksiya holati noto'g'ri",
		"Невозможно выполнить операцию",
		"Unable to perform operation")
	ErrPaymeTransactionTimedOut = paymeError(-31008,
		"Tranzaksiya vaqti tugadi",
		"Транзакция просрочена",
		"Transaction timed out")
	ErrPaymeOrderNotFound = paymeError(-31050,
		"Buyurtma topilmadi",
		"Заказ не найден",
		"Order not found")
	ErrPaymeOrderBusy = paymeError(-31050,
		"Buyurtma band (kutayotgan to'lov mavjud)",
		"Заказ занят (есть ожидающая оплата)",
		"Order is busy")
	ErrPaymeUnauthorized = paymeError(-32504,
		"Sizda ushbu amalni bajarish uchun huquq yo'q",
		"Недостаточно привилегий для выполнения метода",
		"Insufficient privilege to perform this method")
	ErrPaymeMethodNotFound = paymeError(-32504,
		"Metod topilmadi",
		"Метод не найден",
		"Method not found")
	ErrPaymeInternal = paymeError(-32400,
		"Tizim xatosi",
		"Системная ошибка",
		"System error")
)
