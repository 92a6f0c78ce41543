package model

import (
	"encoding/json"
	"strings"
)

// ParseWordList 解析期望关键词/短语字段。
// 管理端历史上存过两种格式：JSON 数组字符串（`["你好","谢谢"]`）
// 和逗号分隔字符串（`你好,谢谢`），这里统一兼容，空白项丢弃。
func ParseWordList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return cleanWordList(arr)
	}

	// 中文输入法下的全角逗号也常见，一并切分。
	raw = strings.ReplaceAll(raw, "，", ",")
	return cleanWordList(strings.Split(raw, ","))
}

func cleanWordList(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ReplaceChildName 替换文案中的 {childName} 占位符。
// 只认这一个占位符；childName 为空时用默认称呼。
func ReplaceChildName(text, childName string) string {
	if childName == "" {
		childName = "小朋友"
	}
	return strings.ReplaceAll(text, "{childName}", childName)
}
