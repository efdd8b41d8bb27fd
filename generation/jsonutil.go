package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject 从模型返回中提取 JSON 对象。
//
// 先尝试第一个 ``` 代码块（可带 json 标记）；否则整体解析，失败后扫描顶层成对的 {...}
// （忽略字符串中的花括号），依次尝试。没有闭合的左花括号直接跳过
func ExtractJSONObject(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrNoJSONObject
	}
	if body, ok := fencedBlock(trimmed); ok {
		if obj, err := scanObject(body); err == nil {
			return obj, nil
		}
	}
	return scanObject(trimmed)
}

// fencedBlock 返回第一个 ``` 代码块的内容
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	rest := s[open+3:]
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	return body, body != ""
}

func scanObject(text string) ([]byte, error) {
	if isJSONObject([]byte(text)) {
		return []byte(text), nil
	}

	var lastErr error
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedEnd(text, start); end >= 0 {
			candidate := []byte(text[start : end+1])
			if isJSONObject(candidate) {
				return candidate, nil
			}
			lastErr = fmt.Errorf("invalid JSON format received from API after cleanup")
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSONObject, lastErr)
	}
	return nil, ErrNoJSONObject
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

// balancedEnd 返回与 s[start] 配对的右花括号下标，未闭合时返回 -1
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeKey 提取 JSON 对象并把 key 对应的数组解码到 dst。key 不存在或不是数组时 found 为 false
func decodeKey(raw, key string, dst interface{}) (found bool, err error) {
	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return false, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}
	value, ok := fields[key]
	if !ok {
		return false, nil
	}
	value = bytes.TrimSpace(value)
	if len(value) == 0 || value[0] != '[' {
		return false, nil
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}
