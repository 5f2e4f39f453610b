package checkout

import (
	"context"

	"github.com/bitvend/bitvend/internal/config"
	orderdomain "github.com/bitvend/bitvend/internal/order/domain"
	productdomain "github.com/bitvend/bitvend/internal/product/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Checkout is the result handed back to the storefront: the pending order
// plus the gateway page the buyer pays on.
type Checkout struct {
	Order  *orderdomain.Order
	PayURL string
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	OrderSvc   orderdomain.Service
	ProductSvc productdomain.Service
	Client     InvoiceClient `optional:"true"`
}

// Service turns a buyer's product pick into an awaiting_payment order with a
// gateway invoice attached.
type Service struct {
	log        *zap.Logger
	orderSvc   orderdomain.Service
	productSvc productdomain.Service
	client     InvoiceClient
}

func NewService(p Params) *Service {
	client := p.Client
	if client == nil {
		client = newGatewayClient(p.Cfg.GatewayBaseURL, p.Cfg.GatewayShopID, p.Cfg.GatewayAPIKey)
	}
	return &Service{
		log:        p.Log.Named("checkout"),
		orderSvc:   p.OrderSvc,
		productSvc: p.ProductSvc,
		client:     client,
	}
}

// Checkout creates the order first and only then asks the gateway for an
// invoice. If the gateway call fails the order stays in created state and a
// later retry attaches a fresh invoice.
func (s *Service) Checkout(ctx context.Context, buyerID int64, productID snowflake.ID) (*Checkout, error) {
	product, err := s.productSvc.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Available {
		return nil, productdomain.ErrNotFound
	}

	order, err := s.orderSvc.Create(ctx, orderdomain.CreateOrderRequest{
		BuyerID:   buyerID,
		ProductID: &product.ID,
		Amount:    product.Price,
		Currency:  product.Currency,
	})
	if err != nil {
		return nil, err
	}

	invoice, err := s.client.CreateInvoice(ctx, order.ID.String(), order.Amount, order.Currency)
	if err != nil {
		s.log.Error("gateway invoice creation failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.orderSvc.AttachInvoice(ctx, order.ID, invoice.InvoiceID); err != nil {
		return nil, err
	}

	order, err = s.orderSvc.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout completed",
		zap.String("order_id", order.ID.String()),
		zap.Int64("buyer_id", buyerID),
		zap.String("product_id", product.ID.String()),
		zap.String("gateway_invoice_id", invoice.InvoiceID),
	)
	return &Checkout{Order: order, PayURL: invoice.PayURL}, nil
}
