package steps

// Typed step inputs. Keys missing from the saga variables keep the defaults.

type orderInput struct {
	UserID     string  `json:"userId" default:"unknown"`
	MerchantID string  `json:"merchantId" default:"merchant123"`
	Amount     float64 `json:"amount" default:"1000"`
}

type debitInput struct {
	ReservedFundsID string  `json:"reservedFundsId" default:"unknown"`
	PaymentOrderID  string  `json:"paymentOrderId" default:"unknown"`
	Amount          float64 `json:"amount" default:"1000"`
}

type antifraudInput struct {
	PaymentOrderID string  `json:"paymentOrderId" default:"unknown"`
	UserID         string  `json:"userId" default:"unknown"`
	Amount         float64 `json:"amount" default:"1000"`
}

type reviewInput struct {
	FraudCheckID string  `json:"fraudCheckId" default:"unknown"`
	Amount       float64 `json:"amount" default:"1000"`
}

type transferInput struct {
	Amount         float64 `json:"amount" default:"1000"`
	MerchantID     string  `json:"merchantId" default:"merchant123"`
	PaymentOrderID string  `json:"paymentOrderId" default:"unknown"`
}

type refundInput struct {
	Amount          float64 `json:"amount" default:"1000"`
	UserID          string  `json:"userId" default:"unknown"`
	ReservedFundsID string  `json:"reservedFundsId" default:"unknown"`
}

// NoticeInput is the slice of the saga variables the notice is built from.
type NoticeInput struct {
	UserID            string  `json:"userId" default:"unknown"`
	Amount            float64 `json:"amount" default:"1000"`
	TransferConfirmed bool    `json:"transferConfirmed"`
	FraudResult       string  `json:"fraudResult"`
	ManualDecision    string  `json:"manualDecision"`
}

// noticeOutput is the variables SendNotice merges into the saga.
type noticeOutput struct {
	NotificationID        string     `json:"notificationId"`
	NotificationType      NoticeType `json:"notificationType"`
	NotificationMessage   string     `json:"notificationMessage"`
	NotificationSent      bool       `json:"notificationSent"`
	NotificationTimestamp string     `json:"notificationTimestamp"`
}
