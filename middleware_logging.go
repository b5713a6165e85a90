package tameng

import (
	"context"
	"strings"
)

const redacted = "[REDACTED]"

// LoggingMiddleware logs requests and responses at debug level and parse failures at
// error level. Authorization headers are redacted.
func LoggingMiddleware(logger Logger) Middleware {
	if logger == nil {
		logger = NewNopLogger()
	}
	return Middleware{
		Name: "logging",
		Pre: func(_ context.Context, config *RequestConfig) (*RequestConfig, error) {
			logger.Debug("HTTP Request",
				"method", config.Method,
				"url", config.URL,
				"headers", redactHeaders(config.Headers),
			)
			return config, nil
		},
		Post: func(_ context.Context, resp *Response) (*Response, error) {
			logger.Debug("HTTP Response",
				"status", resp.Status,
				"url", resp.URL,
				"headers", resp.Header,
			)
			return resp, nil
		},
		Error: func(_ context.Context, err *HTTPError) error {
			fields := []any{
				"label", "HTTP_ERROR",
				"error", err.Message,
				"code", err.Code,
				"status", err.Status,
				"data", err.Data,
				"url", err.URL,
			}
			if err.Config != nil {
				fields = append(fields,
					"method", err.Config.Method,
					"headers", redactHeaders(err.Config.Headers),
					"params", err.Config.Params,
					"timeout", err.Config.Timeout,
				)
			}
			logger.Error("HTTP Error", fields...)
			return nil
		},
	}
}

func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			v = redacted
		}
		out[k] = v
	}
	return out
}
