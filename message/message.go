// Package message defines the envelope exchanged between client and server.
//
// RPCMessage is serialized by the codec layer and wrapped in a protocol frame.
// Service and method travel as separate fields because service names are
// dotted identifiers (e.g. "org.apache.dubbo.samples.serialization.automatic").
package message

// RPCMessage carries a single request or response.
//
//   - On request:  Service and Method are set, Payload is the JSON array of arguments.
//   - On response: Payload is the JSON reply, Error is non-empty if the call failed.
type RPCMessage struct {
	Service  string
	Method   string
	Error    string
	Payload  []byte
	Metadata map[string]string // Optional call attributes, e.g. the caller's codec name
}

// Target renders the call target as "service/method".
func (m *RPCMessage) Target() string {
	return m.Service + "/" + m.Method
}

// Reply builds a response envelope for the same target.
func (m *RPCMessage) Reply(payload []byte) *RPCMessage {
	return &RPCMessage{Service: m.Service, Method: m.Method, Payload: payload}
}

// Fail builds an error response envelope for the same target.
func (m *RPCMessage) Fail(err error) *RPCMessage {
	return &RPCMessage{Service: m.Service, Method: m.Method, Error: err.Error()}
}
