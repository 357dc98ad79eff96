package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"storefront-service/internal/catalog"
	"storefront-service/internal/commerce"
	"storefront-service/internal/store"
)

// GRPCServiceName is the fully qualified name of the storefront gRPC service.
const GRPCServiceName = "storefront.v1.Storefront"

// StorefrontServer is the gRPC surface of the storefront. Requests and responses
// are google.protobuf.Struct messages carrying the same JSON shapes as the HTTP API.
type StorefrontServer interface {
	QueryProducts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetProductBySlug(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ToggleFavorite(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv StorefrontServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorefrontServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GRPCServiceName + "/" + name}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(StorefrontServer), ctx, req.(*structpb.Struct))
		})
	}
}

// StorefrontServiceDesc describes the storefront service for grpc.Server.RegisterService.
var StorefrontServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QueryProducts", Handler: unaryHandler("QueryProducts", StorefrontServer.QueryProducts)},
		{MethodName: "GetProductBySlug", Handler: unaryHandler("GetProductBySlug", StorefrontServer.GetProductBySlug)},
		{MethodName: "GetCart", Handler: unaryHandler("GetCart", StorefrontServer.GetCart)},
		{MethodName: "ToggleFavorite", Handler: unaryHandler("ToggleFavorite", StorefrontServer.ToggleFavorite)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront.proto",
}

// RegisterStorefrontServer registers srv on s.
func RegisterStorefrontServer(s grpc.ServiceRegistrar, srv StorefrontServer) {
	s.RegisterService(&StorefrontServiceDesc, srv)
}

// RecoveryUnaryInterceptor turns a panic in a unary handler into codes.Internal
// so one bad request cannot take the server down.
func RecoveryUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC handler panicked",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"))
				resp, err = nil, status.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
			}
		}()
		return handler(ctx, req)
	}
}

// GRPCHandler implements StorefrontServer over the catalog and the commerce stores.
type GRPCHandler struct {
	catalog  Catalog
	sessions *catalog.Sessions
	stores   *commerce.Registry
	validate *validator.Validate
	logger   *zap.Logger
}

var _ StorefrontServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new GRPCHandler.
func NewGRPCHandler(c Catalog, sessions *catalog.Sessions, stores *commerce.Registry, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{catalog: c, sessions: sessions, stores: stores, validate: validator.New(), logger: logger}
}

// --- Helpers ---

// toStruct converts a JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into dest through its JSON form.
func fromStruct(in *structpb.Struct, dest any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// structValues flattens the scalar fields of a Struct into url.Values.
func structValues(in *structpb.Struct) url.Values {
	values := url.Values{}
	for key, v := range in.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			values.Set(key, kind.StringValue)
		case *structpb.Value_NumberValue:
			values.Set(key, strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
		case *structpb.Value_BoolValue:
			values.Set(key, strconv.FormatBool(kind.BoolValue))
		}
	}
	return values
}

func mapStoreErrorToGrpcStatus(err error, resourceName string, resourceID any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrProductNotFound):
		return status.Errorf(codes.NotFound, "%s %v not found", resourceName, resourceID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "Failed to process request for %s %v: %v", resourceName, resourceID, err)
	}
}

// --- Catalog Methods ---

func (s *GRPCHandler) QueryProducts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	values := structValues(req)
	q, problem := parseCatalogQuery(values)
	if problem != "" {
		return nil, status.Error(codes.InvalidArgument, problem)
	}
	s.logger.Debug("gRPC QueryProducts", zap.String("category", q.CategorySlug), zap.String("filter", string(q.Mode)), zap.Int("page", q.Page))

	var res catalog.Result
	if session := strings.TrimSpace(values.Get("session")); session != "" && s.sessions != nil {
		var ok bool
		if res, ok = s.sessions.For(session).Query(ctx, q); !ok {
			return nil, status.Error(codes.Aborted, "query superseded by a newer query")
		}
	} else {
		var err error
		if res, err = s.catalog.Query(ctx, q); err != nil {
			return nil, mapStoreErrorToGrpcStatus(err, "catalog query", q.Page)
		}
	}
	return toStruct(ProductListResponse{
		Data: res.Items,
		Pagination: PaginationInfo{
			Page:       res.Page,
			Limit:      res.PageSize,
			TotalItems: res.Total,
			TotalPages: res.TotalPages,
		},
	})
}

func (s *GRPCHandler) GetProductBySlug(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slug := strings.TrimSpace(req.GetFields()["slug"].GetStringValue())
	if slug == "" {
		return nil, status.Error(codes.InvalidArgument, "slug is required")
	}
	product, ok := s.catalog.ProductBySlug(ctx, slug)
	if !ok {
		return nil, mapStoreErrorToGrpcStatus(store.ErrProductNotFound, "product", slug)
	}
	return toStruct(product)
}

// --- Commerce Methods ---

func (s *GRPCHandler) GetCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(cartPayload(s.stores.Cart.Snapshot()))
}

func (s *GRPCHandler) ToggleFavorite(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var input ProductInput
	if err := fromStruct(req, &input); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid product: %v", err)
	}
	if err := s.validate.Struct(&input); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	if input.Product.Price.IsNegative() {
		return nil, status.Error(codes.InvalidArgument, "validation failed: price cannot be negative")
	}
	member := s.stores.Favorites.Toggle(input.Product)
	s.logger.Debug("gRPC ToggleFavorite", zap.String("product_id", input.Product.ID), zap.Bool("member", member))
	return toStruct(MembershipResponse{
		ProductID: input.Product.ID,
		Member:    member,
		Count:     s.stores.Favorites.Count(),
	})
}
