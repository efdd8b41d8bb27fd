package generation

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultImageMIME = "image/png"

// ParseImageDataURI 校验 data:image/<type>;base64,<payload>，返回 MIME 类型和解码后的字节
func ParseImageDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidReference
	}
	header, payload, ok := strings.Cut(rest, ";base64,")
	if !ok || payload == "" {
		return "", nil, ErrInvalidReference
	}
	mime := header
	if !strings.HasPrefix(mime, "image/") || len(mime) == len("image/") {
		return "", nil, ErrInvalidReference
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return mime, data, nil
}

// ImageDataURI 图片字节编码为 data URI
func ImageDataURI(mime string, data []byte) string {
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
