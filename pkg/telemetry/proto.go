package telemetry

import (
	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

func number(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func str(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

// Proto converts the snapshot into a protobuf Struct.
func (s Snapshot) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"time":           number(float64(s.At.UnixNano()/1e6) / 1e3),
		"stage":          str(s.Stage.String()),
		"session":        str(s.Session),
		"card":           str(s.Card),
		"capacity":       number(float64(s.Capacity)),
		"file":           str(s.File),
		"committed":      number(float64(s.Committed)),
		"buffered":       number(float64(s.Buffered)),
		"buffer_free":    number(float64(s.BufferFree)),
		"free_clusters":  number(float64(s.FreeClusters)),
		"init_tries":     number(float64(s.InitTries)),
		"supply":         number(float64(s.Supply)),
		"terminate":      str(s.Terminate.String()),
		"records":        number(float64(s.Records)),
		"drops":          number(float64(s.Drops)),
		"errors":         number(float64(s.Errors)),
		"resets":         number(float64(s.Resets)),
		"files":          number(float64(s.Files)),
		"blocks_read":    number(float64(s.BlocksRead)),
		"blocks_written": number(float64(s.BlocksWritten)),
		"fat_writes":     number(float64(s.FATWrites)),
		"dir_writes":     number(float64(s.DirWrites)),
	}}
}

// MarshalJSON encodes the snapshot as the JSON form of its Proto.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out, err := (&jsonpb.Marshaler{}).MarshalToString(s.Proto())
	return []byte(out), err
}

// MarshalProto encodes the snapshot in protobuf wire format.
func (s Snapshot) MarshalProto() ([]byte, error) {
	return proto.Marshal(s.Proto())
}
