package app

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"user-rpc/client"
	"user-rpc/codec"
	"user-rpc/config"
	"user-rpc/loadbalance"
	"user-rpc/logging"
	"user-rpc/middleware"
	"user-rpc/model"
	"user-rpc/registry"
	"user-rpc/userservice"
)

// RunClient sends the configured request to the service named by
// cfg.Client.URL and returns the response. With registry endpoints the
// service is discovered through etcd; otherwise the URL's address is dialed.
func RunClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*model.UserListResponse, error) {
	logger = logging.OrNop(logger)
	ref, err := config.ParseServiceURL(cfg.Client.URL)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ct, err := codec.ParseCodecType(cfg.Client.Codec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bal, err := loadbalance.New(cfg.Client.Balancer)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return nil, errors.Annotate(err, "connecting to registry")
		}
		defer etcd.Close()
		reg = etcd
	} else {
		static := registry.NewStaticRegistry()
		if err := static.Register(ctx, ref.Service, registry.ServiceInstance{Addr: ref.Addr, Weight: 1}, 0); err != nil {
			return nil, errors.Trace(err)
		}
		reg = static
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger.Named("rpc"))}
	if cfg.Client.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Client.Retries, 100*time.Millisecond, logger))
	}
	c := client.NewClient(reg, bal, ct,
		client.WithPoolSize(cfg.Client.PoolSize),
		client.WithLogger(logger.Named("client")),
		client.WithCallTimeout(cfg.Client.CallTimeout),
		client.WithHeartbeat(cfg.Client.Heartbeat),
		client.WithMiddleware(mws...),
	)
	defer c.Close()

	call := c.Unary(ref.Service, cfg.Client.Method,
		client.WithReturnType(reflect.TypeOf(model.UserListResponse{})))
	stub := userservice.NewUserServiceStub(call, logger.Named("stub"))

	logger.Info("calling service",
		zap.Stringer("url", ref),
		zap.String("method", cfg.Client.Method),
		zap.Stringer("codec", ct),
	)
	return stub.ListUsers(ctx, model.UserRequest{Name: cfg.Client.Name, Age: cfg.Client.Age})
}

// PrintSummary writes a human-readable rendering of resp to w.
func PrintSummary(w io.Writer, resp *model.UserListResponse) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Greeting: %s\n", resp.Greeting)
	fmt.Fprintf(&b, "Generated At: %s\n", resp.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total users: %d\n", resp.TotalCount)
	fmt.Fprintf(&b, "Users:\n")
	for _, u := range resp.Users {
		age := "-"
		if u.Age != nil {
			age = fmt.Sprint(*u.Age)
		}
		fmt.Fprintf(&b, "  - %s (%s), Age: %s, Active: %t\n", u.Name, u.Email, age, u.IsActive)
		fmt.Fprintf(&b, "    Created: %s\n", u.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "    UUID: %s\n", u.UUID)
		fmt.Fprintf(&b, "    Login History:\n")
		for _, rec := range u.LoginHistory {
			fmt.Fprintf(&b, "      - %s from %s\n", rec.Timestamp.Format(time.RFC3339), rec.IPAddress)
		}
		if u.Meta != nil {
			fmt.Fprintf(&b, "    Tags: %s\n", strings.Join(u.Meta.Tags.Slice(), ", "))
			fmt.Fprintf(&b, "    Scores: %v\n", [3]int(u.Meta.Scores))
		}
	}
	_, err := io.WriteString(w, b.String())
	return errors.Trace(err)
}
