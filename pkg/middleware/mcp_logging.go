package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/logging"
)

// maxLoggedResponseBytes bounds how much of an MCP response is kept for
// inspection. Larger responses are still written through untouched.
const maxLoggedResponseBytes = 64 << 10

// maxLoggedArgumentLength truncates long tool arguments such as search text.
const maxLoggedArgumentLength = 200

var sensitiveArgumentKeywords = []string{"password", "secret", "token", "key", "credential"}

// MCPRequestLogger returns middleware that logs one line per MCP JSON-RPC
// call: the method, the tool, sanitized arguments and the outcome. Tool
// results flagged isError are reported as tool errors, distinct from
// protocol errors. Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var rpcReq jsonRPCRequest
			if err := json.Unmarshal(bodyBytes, &rpcReq); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			recorder := &mcpResponseRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(recorder, r)

			fields := []zap.Field{
				zap.String("method", rpcReq.Method),
				zap.String("tool", rpcReq.Params.Name),
				zap.Any("arguments", sanitizeArguments(rpcReq.Params.Arguments)),
				zap.Duration("duration", time.Since(start)),
			}
			if id := w.Header().Get(RequestIDHeader); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}

			var rpcResp jsonRPCResponse
			if recorder.truncated || json.Unmarshal(recorder.body.Bytes(), &rpcResp) != nil {
				// Streamed or oversized responses are not inspected.
				logger.Debug("MCP call", fields...)
				return
			}

			switch {
			case rpcResp.Error != nil:
				logger.Debug("MCP call failed", append(fields,
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", rpcResp.Error.Message))...)
			case rpcResp.Result.IsError:
				logger.Debug("MCP tool error", append(fields,
					zap.String("result", logging.TruncateString(rpcResp.Result.text(), maxLoggedArgumentLength)))...)
			default:
				logger.Debug("MCP call", fields...)
			}
		})
	}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result toolResult    `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

type toolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// text returns the first content block, which carries the tool's JSON body.
func (t toolResult) text() string {
	if len(t.Content) == 0 {
		return ""
	}
	return t.Content[0].Text
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder passes the response through while keeping a bounded copy.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body      bytes.Buffer
	truncated bool
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	if !r.truncated {
		if r.body.Len()+len(b) > maxLoggedResponseBytes {
			r.truncated = true
			r.body.Reset()
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streamed responses working through the recorder.
func (r *mcpResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// sanitizeArguments redacts sensitive fields and truncates long values.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveArgument(k) {
			result[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok {
			result[k] = logging.TruncateString(str, maxLoggedArgumentLength)
			continue
		}
		result[k] = v
	}
	return result
}

func isSensitiveArgument(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range sensitiveArgumentKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
