package ui

import (
	"errors"

	"github.com/manifoldco/promptui"

	"iwms/core/conflict"
)

// policyLabels 冲突策略的中文说明
var policyLabels = map[conflict.Policy]string{
	conflict.PolicySkip:      "跳过 - 目标已存在时不处理该文件",
	conflict.PolicyOverwrite: "覆盖 - 用新文件替换已存在的目标",
	conflict.PolicyAppend:    "追加后缀 - 另存为 名称_conflict-N",
}

// PolicyLabel 冲突策略说明
func PolicyLabel(p conflict.Policy) string {
	if label, ok := policyLabels[p]; ok {
		return label
	}
	return string(p)
}

// SelectPolicy 交互选择冲突处理策略，光标初始位于 current
func SelectPolicy(current conflict.Policy) (conflict.Policy, error) {
	policies := conflict.Policies()
	items := make([]string, len(policies))
	cursor := 0
	for i, p := range policies {
		items[i] = PolicyLabel(p)
		if p == current {
			cursor = i
		}
	}

	prompt := promptui.Select{
		Label:     "目标文件已存在时如何处理",
		Items:     items,
		CursorPos: cursor,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return policies[idx], nil
}

// Confirm 是/否确认，用户输入 n 或直接回车时返回 false
func Confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
