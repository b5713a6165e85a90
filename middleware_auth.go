package tameng

import (
	"context"
	"fmt"
)

// TokenProvider returns the bearer token for an outgoing request.
type TokenProvider func(ctx context.Context) (string, error)

// AuthMiddleware sets "Authorization: Bearer <token>" on every request. A provider error
// aborts the request before it is sent.
func AuthMiddleware(provider TokenProvider) Middleware {
	return Middleware{
		Name: "auth",
		Pre: func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
			token, err := provider(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve auth token: %w", err)
			}
			if config.Headers == nil {
				config.Headers = make(map[string]string)
			}
			setHeader(config.Headers, "Authorization", "Bearer "+token)
			return config, nil
		},
	}
}

// StaticToken is a TokenProvider for a fixed token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}
