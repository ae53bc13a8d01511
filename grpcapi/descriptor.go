package grpcapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	ServiceName         = "producto.ProductoService"
	IngestProductMethod = "/" + ServiceName + "/IngresarProducto"
)

// producto.proto，欄位編號必須與既有客戶端一致
var productoFile = mustBuildFile()

var (
	productRequest  = productoFile.Messages().ByName("ProductoRequest")
	productResponse = productoFile.Messages().ByName("ProductoResponse")
)

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func mustBuildFile() protoreflect.FileDescriptor {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("producto.proto"),
		Package: proto.String("producto"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ProductoRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("nombre", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalar("descripcion", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalar("precio", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalar("stock_inicial", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					scalar("foto", 5, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				},
			},
			{
				Name: proto.String("ProductoResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("exito", 1, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					scalar("mensaje", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("ProductoService"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("IngresarProducto"),
				InputType:  proto.String(".producto.ProductoRequest"),
				OutputType: proto.String(".producto.ProductoResponse"),
			}},
		}},
	}

	fd, err := protodesc.NewFile(file, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("invalid producto.proto descriptor: %v", err))
	}
	return fd
}

// ProductRequest 對應 ProductoRequest
type ProductRequest struct {
	Name         string
	Description  string
	Price        float64
	InitialStock int32
	Photo        []byte
}

func (r ProductRequest) message() *dynamicpb.Message {
	fields := productRequest.Fields()
	m := dynamicpb.NewMessage(productRequest)
	m.Set(fields.ByName("nombre"), protoreflect.ValueOfString(r.Name))
	m.Set(fields.ByName("descripcion"), protoreflect.ValueOfString(r.Description))
	m.Set(fields.ByName("precio"), protoreflect.ValueOfFloat64(r.Price))
	m.Set(fields.ByName("stock_inicial"), protoreflect.ValueOfInt32(r.InitialStock))
	m.Set(fields.ByName("foto"), protoreflect.ValueOfBytes(r.Photo))
	return m
}

func decodeProductRequest(m protoreflect.Message) ProductRequest {
	fields := productRequest.Fields()
	return ProductRequest{
		Name:         m.Get(fields.ByName("nombre")).String(),
		Description:  m.Get(fields.ByName("descripcion")).String(),
		Price:        m.Get(fields.ByName("precio")).Float(),
		InitialStock: int32(m.Get(fields.ByName("stock_inicial")).Int()),
		Photo:        m.Get(fields.ByName("foto")).Bytes(),
	}
}

// ProductResponse 對應 ProductoResponse；失敗時 OK 為 false，Message 說明原因
type ProductResponse struct {
	OK      bool
	Message string
}

func (r ProductResponse) message() *dynamicpb.Message {
	fields := productResponse.Fields()
	m := dynamicpb.NewMessage(productResponse)
	m.Set(fields.ByName("exito"), protoreflect.ValueOfBool(r.OK))
	m.Set(fields.ByName("mensaje"), protoreflect.ValueOfString(r.Message))
	return m
}

func decodeProductResponse(m protoreflect.Message) ProductResponse {
	fields := productResponse.Fields()
	return ProductResponse{
		OK:      m.Get(fields.ByName("exito")).Bool(),
		Message: m.Get(fields.ByName("mensaje")).String(),
	}
}
