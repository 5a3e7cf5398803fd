package protocol

// 错误码定义
const (
	// 通用错误
	ErrCodeSuccess        = 0 // 成功
	ErrCodeInternalError  = 1 // 内部错误
	ErrCodeInvalidRequest = 2 // 无效请求

	// 认证相关 (1xxx)
	ErrCodeAuthFailed   = 1001 // 认证失败
	ErrCodeTokenExpired = 1002 // Token 过期

	// 上游相关 (2xxx)
	ErrCodeUpstreamUnavailable = 2001 // 上游连接失败
	ErrCodeUpstreamClosed      = 2002 // 上游连接已断开
	ErrCodeUpstreamError       = 2003 // 上游 I/O 错误
	ErrCodeNotConnected        = 2004 // 上游尚未连接
)

// ErrCodeMessage 错误码对应的消息
var ErrCodeMessage = map[int]string{
	ErrCodeSuccess:             "success",
	ErrCodeInternalError:       "internal_error",
	ErrCodeInvalidRequest:      "invalid_request",
	ErrCodeAuthFailed:          "auth_failed",
	ErrCodeTokenExpired:        "token_expired",
	ErrCodeUpstreamUnavailable: "upstream_unavailable",
	ErrCodeUpstreamClosed:      "upstream_closed",
	ErrCodeUpstreamError:       "upstream_error",
	ErrCodeNotConnected:        "not_connected",
}
