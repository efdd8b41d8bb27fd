package generation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误分类，仅用于给用户的提示信息，不参与控制流程
type Kind int

const (
	KindService Kind = iota
	KindAuth
	KindQuota
	KindPermission
	KindMalformed
	KindNoImage
	KindInvalidReference
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindPermission:
		return "permission"
	case KindMalformed:
		return "malformed"
	case KindNoImage:
		return "no_image"
	case KindInvalidReference:
		return "invalid_reference"
	}
	return "service"
}

var (
	// ErrNoJSONObject 模型返回中找不到 JSON 对象
	ErrNoJSONObject = errors.New("could not find a valid JSON object in the API response")
	// ErrMissingKey JSON 对象缺少预期的顶层字段
	ErrMissingKey = errors.New("invalid JSON structure received from API")
	// ErrNoImageData 图片响应中没有内联图片数据
	ErrNoImageData = errors.New("no image data found in the response from the model")
	// ErrInvalidReference 参考图不是 base64 data URI
	ErrInvalidReference = errors.New("invalid base64 image format provided for reference")
)

// Error 是 Client 所有操作返回的统一错误类型
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("API Key Error in %s: The API key is not valid or has been disabled. Please ensure it is correctly configured in your environment.", e.Op)
	case KindQuota:
		return fmt.Sprintf("Quota Error in %s: You have exceeded your API usage quota. Please check your Google AI project.", e.Op)
	case KindPermission:
		return fmt.Sprintf("Permission Error in %s: The API key lacks the necessary permissions for this operation.", e.Op)
	case KindMalformed:
		return fmt.Sprintf("Response Error in %s: The model returned an invalid response. It might be helpful to try again.", e.Op)
	}
	if e.Err == nil {
		return fmt.Sprintf("An unknown error occurred in %s.", e.Op)
	}
	return fmt.Sprintf("Error in %s: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify 包装 op 的错误：先按哨兵错误判断 Kind，再按错误信息中的关键字判断
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Op: op, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNoImageData):
		return KindNoImage
	case errors.Is(err, ErrInvalidReference):
		return KindInvalidReference
	case errors.Is(err, ErrNoJSONObject), errors.Is(err, ErrMissingKey):
		return KindMalformed
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key_invalid"), strings.Contains(msg, "unauthenticated"):
		return KindAuth
	case strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "rate limit"):
		return KindQuota
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "permission_denied"):
		return KindPermission
	case strings.Contains(msg, "json"):
		return KindMalformed
	}
	return KindService
}

// KindOf 返回 err 的分类，不是 *Error 时返回 KindService
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindService
}
