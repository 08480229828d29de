// Package bridge carries a link.Link over a gRPC stream so that an agent
// can run on a different host from the device it talks to.
//
// The service has a single bidirectional method. Every message is a
// BytesValue whose first byte is the peer endpoint ID and whose remainder
// is one PLDM message.
package bridge

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/link"
)

const (
	serviceName    = "pldm.bridge.v1.LinkBridge"
	exchangeMethod = "/" + serviceName + "/Exchange"

	acceptedHeader = "pldm-bridge"
)

type linkBridgeServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(linkBridgeServer).Exchange(stream)
}

var linkBridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*linkBridgeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pldm/bridge/v1/bridge.proto",
}

func encodeEnvelope(peer link.EID, msg []byte) *wrapperspb.BytesValue {
	v := make([]byte, 0, len(msg)+1)
	v = append(v, byte(peer))
	return wrapperspb.Bytes(append(v, msg...))
}

func decodeEnvelope(m *wrapperspb.BytesValue) (link.EID, []byte, error) {
	v := m.GetValue()
	if len(v) < 1 {
		return 0, nil, fmt.Errorf("bridge: empty envelope")
	}
	return link.EID(v[0]), v[1:], nil
}
