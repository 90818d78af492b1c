package vectordb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// #region wire-schema
// The vdss.VDSSService schema, described in code so no generated stubs are
// needed. Field numbers must match the store's vdss.proto.

const serviceName = "vdss.VDSSService"

const (
	methodCreateCollection = "/" + serviceName + "/CreateCollection"
	methodUpsertVector     = "/" + serviceName + "/UpsertVector"
	methodFlush            = "/" + serviceName + "/Flush"
	methodSearch           = "/" + serviceName + "/Search"
	methodDeleteVector     = "/" + serviceName + "/DeleteVector"
)

// Distance metric enum values.
const (
	distanceUnspecified = 0
	distanceCosine      = 1
	distanceEuclidean   = 2
	distanceDotProduct  = 3
)

var schema = mustBuildSchema()

func mustBuildSchema() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(schemaProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("vectordb: build schema: %v", err))
	}
	return fd
}

func schemaProto() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	scalar := func(name string, num int32, t descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name: proto.String(name), Number: proto.Int32(num),
			Label: optional, Type: t.Enum(),
		}
	}
	message := func(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name: proto.String(name), Number: proto.Int32(num),
			Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".vdss." + typeName),
		}
	}
	msg := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}
	statusOnly := func(name string) *descriptorpb.DescriptorProto {
		return msg(name, message("status", 1, "Status"))
	}
	method := func(name string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(".vdss." + name + "Request"),
			OutputType: proto.String(".vdss." + name + "Response"),
		}
	}

	u64 := scalar("u64_id", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64)
	u64.OneofIndex = proto.Int32(0)
	uid := scalar("uuid", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING)
	uid.OneofIndex = proto.Int32(0)
	vectorIdentifier := msg("VectorIdentifier", u64, uid)
	vectorIdentifier.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("id")}}

	data := scalar("data", 1, descriptorpb.FieldDescriptorProto_TYPE_FLOAT)
	data.Label = repeated

	distance := &descriptorpb.FieldDescriptorProto{
		Name: proto.String("distance_metric"), Number: proto.Int32(2),
		Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
		TypeName: proto.String(".vdss.DistanceMetric"),
	}
	results := message("results", 2, "SearchResult")
	results.Label = repeated

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("vdss.proto"),
		Package: proto.String("vdss"),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("DistanceMetric"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("DISTANCE_METRIC_UNSPECIFIED"), Number: proto.Int32(distanceUnspecified)},
				{Name: proto.String("COSINE"), Number: proto.Int32(distanceCosine)},
				{Name: proto.String("EUCLIDEAN"), Number: proto.Int32(distanceEuclidean)},
				{Name: proto.String("DOT_PRODUCT"), Number: proto.Int32(distanceDotProduct)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			msg("Status",
				scalar("code", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				scalar("message", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING)),
			vectorIdentifier,
			msg("Vector", data, scalar("dimension", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32)),
			msg("Payload", scalar("json", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)),
			msg("CollectionConfig", scalar("dimension", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT32), distance),

			msg("CreateCollectionRequest",
				scalar("collection_name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				message("config", 2, "CollectionConfig")),
			statusOnly("CreateCollectionResponse"),

			msg("UpsertVectorRequest",
				scalar("collection_name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				message("vector_id", 2, "VectorIdentifier"),
				message("vector", 3, "Vector"),
				message("payload", 4, "Payload")),
			statusOnly("UpsertVectorResponse"),

			msg("FlushRequest", scalar("collection_name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)),
			statusOnly("FlushResponse"),

			msg("SearchRequest",
				scalar("collection_name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				message("query", 2, "Vector"),
				scalar("top_k", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				scalar("with_vector", 4, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				scalar("with_payload", 5, descriptorpb.FieldDescriptorProto_TYPE_BOOL)),
			msg("SearchResult",
				message("id", 1, "VectorIdentifier"),
				scalar("score", 2, descriptorpb.FieldDescriptorProto_TYPE_FLOAT),
				message("vector", 3, "Vector"),
				message("payload", 4, "Payload")),
			msg("SearchResponse", message("status", 1, "Status"), results),

			msg("DeleteVectorRequest",
				scalar("collection_name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				message("vector_id", 2, "VectorIdentifier")),
			statusOnly("DeleteVectorResponse"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("VDSSService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("CreateCollection"),
				method("UpsertVector"),
				method("Flush"),
				method("Search"),
				method("DeleteVector"),
			},
		}},
	}
}
// #endregion wire-schema

// #region message-helpers
func newMessage(name string) *dynamicpb.Message {
	md := schema.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("vectordb: unknown message " + name)
	}
	return dynamicpb.NewMessage(md)
}

func fieldOf(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("vectordb: %s has no field %s", m.Descriptor().Name(), name))
	}
	return fd
}

func setString(m protoreflect.Message, name, v string) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfString(v))
}

func setUint32(m protoreflect.Message, name string, v uint32) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfUint32(v))
}

func setBool(m protoreflect.Message, name string, v bool) {
	m.Set(fieldOf(m, name), protoreflect.ValueOfBool(v))
}

// child returns the (mutable) sub-message stored in field name.
func child(m protoreflect.Message, name string) protoreflect.Message {
	return m.Mutable(fieldOf(m, name)).Message()
}

func getString(m protoreflect.Message, name string) string {
	return m.Get(fieldOf(m, name)).String()
}

func getMessage(m protoreflect.Message, name string) protoreflect.Message {
	return m.Get(fieldOf(m, name)).Message()
}

func vectorIdentifier(m protoreflect.Message, id string) {
	setString(m, "uuid", id)
}

func vectorData(m protoreflect.Message, data []float32) {
	list := m.Mutable(fieldOf(m, "data")).List()
	for _, x := range data {
		list.Append(protoreflect.ValueOfFloat32(x))
	}
	setUint32(m, "dimension", uint32(len(data)))
}

// statusOf extracts the embedded Status of a response, if any.
func statusOf(m protoreflect.Message) (code int32, message string) {
	fd := m.Descriptor().Fields().ByName("status")
	if fd == nil || !m.Has(fd) {
		return 0, ""
	}
	st := m.Get(fd).Message()
	return int32(st.Get(fieldOf(st, "code")).Int()), getString(st, "message")
}
// #endregion message-helpers
