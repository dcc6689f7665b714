package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID 生成一个标准的 UUID (v4)
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateShortUUID 生成一个不带中划线的短 UUID
func GenerateShortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateID 生成带业务前缀的 20 位 ID，例如 CS + 18 位随机串
func GenerateID(prefix string) string {
	body := strings.ToUpper(GenerateShortUUID())
	n := 20 - len(prefix)
	if n <= 0 {
		return prefix
	}
	return prefix + body[:n]
}

// TruncateRunes 按字符截断，超出时追加省略号
func TruncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
