// Package authrpc verifies user tokens, either by calling the external auth
// service or, in constrained deployments, by validating a JWKS-issued JWT
// directly inside the gateway process.
package authrpc

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/peroxo/gateway/internal/metrics"
	_ "github.com/peroxo/gateway/internal/rpcjson"
)

// Verified is what a successful token verification yields.
type Verified struct {
	UserID int32
}

// Client verifies an opaque bearer token and reports whether the referenced
// user exists, mirroring the external VerifyUserToken contract.
type Client interface {
	VerifyUserToken(ctx context.Context, token string) (verified *Verified, found bool, err error)
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	UserID int32 `json:"user_id"`
	Found  bool  `json:"found"`
}

// RPCClient calls the external auth service over gRPC with a JSON codec,
// wrapped in a circuit breaker exactly like the persistence client.
type RPCClient struct {
	conn *grpc.ClientConn
	cb   *gobreaker.CircuitBreaker
}

// NewRPCClient dials the auth service.
func NewRPCClient(address string) (*RPCClient, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	st := gobreaker.Settings{
		Name:        "auth",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("auth").Set(stateVal)
		},
	}

	return &RPCClient{conn: conn, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// VerifyUserToken implements Client.
func (c *RPCClient) VerifyUserToken(ctx context.Context, token string) (*Verified, bool, error) {
	var resp verifyResponse
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.conn.Invoke(ctx, "/chat.AuthService/VerifyUserToken", verifyRequest{Token: token}, &resp, grpc.CallContentSubtype("json"))
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("auth").Inc()
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return &Verified{UserID: resp.UserID}, true, nil
}

// Ping reports whether the gRPC connection to the auth service is usable,
// for readiness checks.
func (c *RPCClient) Ping(ctx context.Context) error {
	state := c.conn.GetState()
	if state.String() == "SHUTDOWN" {
		return context.Canceled
	}
	return nil
}

// Close closes the underlying connection.
func (c *RPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
