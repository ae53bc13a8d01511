// Package grpcapi exposes product ingestion over gRPC. Messages are described
// at runtime from the producto.proto layout, so clients generated from that
// file interoperate without generated Go code.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/dynamicpb"

	"goflare.io/storefront/models"
	"goflare.io/storefront/product"
)

const (
	invalidProductMessage = "Error: Nombre y precio válido son requeridos."
	negativeStockMessage  = "Error: El stock inicial no puede ser negativo."
	internalErrorMessage  = "Error interno del servidor."
)

// ProductIngester 由 storefront.Service 實作
type ProductIngester interface {
	IngestProduct(ctx context.Context, params product.CreateProductParams) (*models.Product, error)
}

// productService is the HandlerType registered for ProductoService.
type productService interface {
	IngresarProducto(ctx context.Context, req ProductRequest) ProductResponse
}

var productServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*productService)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "IngresarProducto",
		Handler:    ingestProductHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "producto.proto",
}

func ingestProductHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(productRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp := srv.(productService).IngresarProducto(ctx, decodeProductRequest(req.(*dynamicpb.Message)))
		return resp.message(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestProductMethod}, handler)
}

type productServer struct {
	svc    ProductIngester
	logger *zap.Logger
}

// NewServer 建立 gRPC 伺服器，註冊商品匯入與健康檢查服務
func NewServer(svc ProductIngester, logger *zap.Logger) *grpc.Server {
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(recoverer(logger), requestLogger(logger)))
	server.RegisterService(&productServiceDesc, &productServer{svc: svc, logger: logger})

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return server
}

// IngresarProducto never fails at the transport level; the outcome is in the
// response, as existing clients expect.
func (s *productServer) IngresarProducto(ctx context.Context, req ProductRequest) ProductResponse {
	if math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return ProductResponse{Message: invalidProductMessage}
	}

	created, err := s.svc.IngestProduct(ctx, product.CreateProductParams{
		Name:         req.Name,
		Description:  req.Description,
		Price:        decimal.NewFromFloat(req.Price),
		InitialStock: int(req.InitialStock),
		Photo:        req.Photo,
	})

	var validation *models.ValidationError
	switch {
	case err == nil:
		return ProductResponse{OK: true, Message: fmt.Sprintf("Producto '%s' ingresado con éxito.", created.Name)}
	case errors.As(err, &validation) && validation.Field == "initialStock":
		return ProductResponse{Message: negativeStockMessage}
	case errors.As(err, &validation):
		return ProductResponse{Message: invalidProductMessage}
	case errors.Is(err, models.ErrProductExists):
		return ProductResponse{Message: fmt.Sprintf("Error: El producto '%s' ya existe.", strings.TrimSpace(req.Name))}
	default:
		s.logger.Error("failed to ingest product", zap.String("name", req.Name), zap.Error(err))
		return ProductResponse{Message: internalErrorMessage}
	}
}

// IngestProduct 呼叫遠端的 ProductoService
func IngestProduct(ctx context.Context, conn grpc.ClientConnInterface, req ProductRequest) (ProductResponse, error) {
	out := dynamicpb.NewMessage(productResponse)
	if err := conn.Invoke(ctx, IngestProductMethod, req.message(), out); err != nil {
		return ProductResponse{}, fmt.Errorf("failed to ingest product: %w", err)
	}
	return decodeProductResponse(out), nil
}
