package userservice

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"user-rpc/codec"
	"user-rpc/loadbalance"
	"user-rpc/logging"
	"user-rpc/model"
)

// Invoker performs one remote call. *client.UnaryCall satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, args ...any) (any, error)
}

// CallError is the single failure a stub call reports. Op names the stage
// that failed: "invoke" for transport and server errors, "decode" when the
// reply could not be turned into a response.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("list users: %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// UserServiceStub is the typed client side of the list-users call.
type UserServiceStub struct {
	listUsers Invoker
	logger    *zap.Logger
}

// NewUserServiceStub wraps listUsers. A nil logger discards output.
func NewUserServiceStub(listUsers Invoker, logger *zap.Logger) *UserServiceStub {
	return &UserServiceStub{listUsers: listUsers, logger: logging.OrNop(logger)}
}

// ListUsers sends req and returns the typed response. Calls with the same
// name stick to one server when the client balances by consistent hash.
func (s *UserServiceStub) ListUsers(ctx context.Context, req model.UserRequest) (*model.UserListResponse, error) {
	s.logger.Debug("sending request", zap.String("name", req.Name), zap.Int("age", req.Age))

	result, err := s.listUsers.Invoke(loadbalance.WithHashKey(ctx, req.Name), req)
	if err != nil {
		return nil, &CallError{Op: "invoke", Err: err}
	}

	resp, err := responseOf(result)
	if err != nil {
		return nil, &CallError{Op: "decode", Err: err}
	}
	if !resp.Consistent() {
		s.logger.Warn("response total_count does not match users",
			zap.Int("total_count", resp.TotalCount),
			zap.Int("users", len(resp.Users)),
		)
	}
	return resp, nil
}

// responseOf accepts a typed response or rebuilds one from a loosely typed
// mapping.
func responseOf(result any) (*model.UserListResponse, error) {
	switch r := result.(type) {
	case *model.UserListResponse:
		if r == nil {
			return nil, errors.NotValidf("nil response")
		}
		return r, nil
	case model.UserListResponse:
		return &r, nil
	case map[string]any:
		raw, err := codec.Payload.Encode(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		resp := &model.UserListResponse{}
		if err := codec.Payload.Decode(raw, resp); err != nil {
			return nil, errors.Annotate(err, "rebuilding response")
		}
		return resp, nil
	}
	return nil, errors.NotValidf("reply of type %T", result)
}
