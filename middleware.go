package tameng

import (
	"context"
	"fmt"
)

// middlewareChain runs hooks in registration order.
type middlewareChain []Middleware

func (c middlewareChain) runPre(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
	for _, m := range c {
		if m.Pre == nil {
			continue
		}
		next, err := m.Pre(ctx, config)
		if err != nil {
			return config, newHTTPError(ErrorTypeMiddleware, hookFailure(m, "pre"), config, err)
		}
		if next != nil {
			config = next
		}
	}
	return config, nil
}

// runPost stops at the first failing hook and returns the response built so far.
func (c middlewareChain) runPost(ctx context.Context, resp *Response) (*Response, error) {
	for _, m := range c {
		if m.Post == nil {
			continue
		}
		next, err := m.Post(ctx, resp)
		if err != nil {
			return resp, newHTTPError(ErrorTypeMiddleware, hookFailure(m, "post"), resp.Config, err)
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// runError gives every error hook a look at the failure. A hook may replace the error;
// the result is never nil.
func (c middlewareChain) runError(ctx context.Context, httpErr *HTTPError) error {
	var current error = httpErr
	for _, m := range c {
		if m.Error == nil {
			continue
		}
		arg, ok := AsHTTPError(current)
		if !ok {
			arg = httpErr
		}
		if replaced := m.Error(ctx, arg); replaced != nil {
			current = replaced
		}
	}
	return current
}

func hookFailure(m Middleware, stage string) string {
	if m.Name == "" {
		return fmt.Sprintf("%s hook failed", stage)
	}
	return fmt.Sprintf("%s hook %q failed", stage, m.Name)
}
