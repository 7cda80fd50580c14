package steps

import (
	"context"
	"log/slog"
)

type OrderRequest struct {
	UserID     string
	MerchantID string
	Amount     float64
}

type Order struct {
	PaymentOrderID  string
	ReservedFundsID string
}

type DebitRequest struct {
	ReservedFundsID string
	PaymentOrderID  string
	Amount          float64
}

type TransferRequest struct {
	MerchantID     string
	PaymentOrderID string
	Amount         float64
}

type Transfer struct {
	TransferID    string
	TransactionID string
}

type RefundRequest struct {
	ReservedFundsID string
	UserID          string
	Amount          float64
}

type Refund struct {
	RefundID      string
	TransactionID string
}

// Gateway moves the money of a payment saga.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	Debit(ctx context.Context, req DebitRequest) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (Transfer, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Notice is a customer notification.
type Notice struct {
	Type    NoticeType
	UserID  string
	Message string
}

type Notifier interface {
	Notify(ctx context.Context, notice Notice) (string, error)
}

var (
	_ Gateway  = (*SimulatedGateway)(nil)
	_ Notifier = (*SimulatedGateway)(nil)
)

// SimulatedGateway accepts every operation and issues fresh ids.
type SimulatedGateway struct {
	l *slog.Logger
}

func NewSimulatedGateway(l *slog.Logger) *SimulatedGateway {
	if l == nil {
		l = slog.Default()
	}
	return &SimulatedGateway{l: l}
}

func (g *SimulatedGateway) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	return Order{
		PaymentOrderID:  newID("ORDER"),
		ReservedFundsID: newID("RES"),
	}, nil
}

func (g *SimulatedGateway) Debit(ctx context.Context, req DebitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return newID("DEBIT"), nil
}

func (g *SimulatedGateway) Transfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if err := ctx.Err(); err != nil {
		return Transfer{}, err
	}
	return Transfer{
		TransferID:    newID("TR"),
		TransactionID: newID("TXN"),
	}, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	return Refund{
		RefundID:      newID("REF"),
		TransactionID: newID("REFUND"),
	}, nil
}

func (g *SimulatedGateway) Notify(ctx context.Context, notice Notice) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.l.InfoContext(ctx, "Notice sent",
		"type", notice.Type,
		"user_id", notice.UserID,
		"message", notice.Message)
	return newID("NOTIFY"), nil
}
