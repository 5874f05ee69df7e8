package userservice

import (
	"github.com/juju/errors"

	"user-rpc/codec"
	"user-rpc/model"
	"user-rpc/server"
)

// DefaultServiceName is the service the list-users method is published under.
const DefaultServiceName = "org.apache.dubbo.samples.serialization.automatic"

// Mode selects how the handler is registered with the server.
type Mode string

const (
	// ModeManual registers method "unary" with explicit parameter and return
	// types. The parameter is a WireRequest, normalized as it is decoded.
	ModeManual Mode = "manual"
	// ModeAutomatic infers name and types from Handler.ListUsers.
	ModeAutomatic Mode = "automatic"
	// ModeMultiple registers method "listUsers" with explicit types.
	ModeMultiple Mode = "multiple"
)

// ParseMode accepts "manual", "automatic" or "multiple". The empty string means manual.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeManual:
		return ModeManual, nil
	case ModeAutomatic, ModeMultiple:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown mode: %s. Use: manual, automatic, or multiple", s)
}

// MethodName is the name clients call for mode.
func (m Mode) MethodName() string {
	switch m {
	case ModeAutomatic:
		return "ListUsers"
	case ModeMultiple:
		return "listUsers"
	}
	return "unary"
}

// BuildServiceHandler publishes h.ListUsers under serviceName the way mode
// prescribes. Method arguments are accepted in frames encoded with ct.
func BuildServiceHandler(mode Mode, serviceName string, ct codec.CodecType, h *Handler) (*server.ServiceHandler, error) {
	var (
		method *server.MethodHandler
		err    error
	)
	switch mode {
	case ModeManual, ModeMultiple:
		method, err = server.Unary(h.ListUsers,
			server.WithMethodName(mode.MethodName()),
			server.WithParamTypes(server.TypeOf[WireRequest]()),
			server.WithReturnType(server.TypeOf[*model.UserListResponse]()),
			server.WithCodec(ct),
		)
	case ModeAutomatic:
		method, err = server.Unary(h.ListUsers, server.WithCodec(ct))
	default:
		_, err = ParseMode(string(mode))
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return server.NewServiceHandler(serviceName, method)
}
