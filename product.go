package storefront

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
	"goflare.io/storefront/product"
)

// IngestProduct 驗證並新增商品主檔；名稱不可空白且價格必須大於零
func (s *service) IngestProduct(ctx context.Context, params product.CreateProductParams) (*models.Product, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" || !params.Price.IsPositive() {
		return nil, &models.ValidationError{Reason: "name and a positive price are required"}
	}
	if params.InitialStock < 0 {
		return nil, &models.ValidationError{Field: "initialStock", Reason: "must not be negative"}
	}

	created, err := s.product.CreateProduct(ctx, nil, params)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product ingested",
		zap.Uint64("product_id", created.ID),
		zap.String("name", created.Name),
		zap.String("price", created.Price.String()))
	return created, nil
}
