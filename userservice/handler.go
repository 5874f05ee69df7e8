// Package userservice implements the list-users call: the server handler with
// its request normalization, the client stub, and the registration modes.
package userservice

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"user-rpc/logging"
	"user-rpc/model"
)

// Handler serves list-users calls from a Store.
type Handler struct {
	store  *Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewHandler creates a handler. A nil clock means the wall clock; a nil
// logger discards output.
func NewHandler(store *Store, clk clock.Clock, logger *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Handler{store: store, clock: clk, logger: logging.OrNop(logger)}
}

// ListUsers answers with the whole directory and a greeting for the caller.
// request may be in any shape Normalize understands. Unreadable requests are
// answered as if DefaultRequest had been sent.
func (h *Handler) ListUsers(ctx context.Context, request any) (*model.UserListResponse, error) {
	req, err := Normalize(PayloadOf(request))
	if err != nil {
		h.logger.Warn("unreadable request, using default",
			zap.String("type", fmt.Sprintf("%T", request)),
			zap.Error(err),
		)
	}
	h.logger.Debug("list users", zap.String("name", req.Name), zap.Int("age", req.Age))

	return model.NewUserListResponse(h.store.Users(), Greeting(req), h.clock.Now().UTC()), nil
}

// Greeting renders the greeting returned for req.
func Greeting(req model.UserRequest) string {
	return fmt.Sprintf("Hello %s (age %d)!", req.Name, req.Age)
}
