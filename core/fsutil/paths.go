package fsutil

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// NormalizePath 规范化用户输入的路径
// 处理 ~ 展开、百分号编码、Windows 反斜杠以及 GBK 编码的路径
func NormalizePath(input string) (string, error) {
	// 只有当路径明确包含%编码时才进行解码，避免破坏中文文件名
	decoded := input
	if strings.Contains(input, "%") {
		if unescaped, err := url.PathUnescape(input); err == nil && utf8.ValidString(unescaped) {
			decoded = unescaped
		}
	}

	if strings.HasPrefix(decoded, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		decoded = filepath.Join(homeDir, decoded[1:])
	}

	if filepath.Separator != '\\' {
		decoded = strings.ReplaceAll(decoded, "\\", string(filepath.Separator))
	}

	absPath, err := filepath.Abs(decoded)
	if err != nil {
		return "", err
	}

	if !utf8.ValidString(absPath) {
		absPath = fixEncoding(absPath)
	}
	return absPath, nil
}

// fixEncoding 尝试将非UTF-8路径按中文编码重新解释
func fixEncoding(path string) string {
	decoders := []transform.Transformer{
		simplifiedchinese.GBK.NewDecoder(),
		simplifiedchinese.GB18030.NewDecoder(),
	}
	for _, dec := range decoders {
		decoded, err := io.ReadAll(transform.NewReader(strings.NewReader(path), dec))
		if err != nil {
			continue
		}
		s := string(decoded)
		if utf8.ValidString(s) && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return path
}

// IsWithin 检查目标路径是否位于基础目录内（防止路径遍历）
func IsWithin(basePath, targetPath string) bool {
	base, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
