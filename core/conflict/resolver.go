// Package conflict 处理目标文件名冲突
package conflict

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"iwms/core/fsutil"
)

// Policy 冲突处理策略
type Policy string

const (
	// PolicySkip 目标已存在时跳过
	PolicySkip Policy = "skip"
	// PolicyOverwrite 目标已存在时覆盖
	PolicyOverwrite Policy = "overwrite"
	// PolicyAppend 目标已存在时追加 _conflict-N 后缀
	PolicyAppend Policy = "append"
)

// conflictSuffix 追加策略使用的后缀
const conflictSuffix = "_conflict-"

// Policies 所有可用策略
func Policies() []Policy {
	return []Policy{PolicySkip, PolicyOverwrite, PolicyAppend}
}

// ParsePolicy 解析策略名称（大小写不敏感）
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySkip:
		return PolicySkip, nil
	case PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyAppend:
		return PolicyAppend, nil
	}
	return "", fmt.Errorf("未知的冲突处理策略: %q (可选: skip, overwrite, append)", s)
}

// Outcome 冲突解析结果
type Outcome struct {
	// Path 最终输出路径；Skip为true时为候选路径
	Path string
	// Skip 调用方不得写入，应记录为跳过
	Skip bool
	// Conflict 候选路径已被占用
	Conflict bool
}

// Resolve 按策略解析候选路径，不记录任何占用状态。
// 文件系统不变时，多次调用返回相同结果。
func Resolve(fs afero.Fs, candidate string, policy Policy) Outcome {
	taken := func(p string) bool { return fsutil.Exists(fs, p) }
	return resolve(candidate, policy, taken)
}

func resolve(candidate string, policy Policy, taken func(string) bool) Outcome {
	if !taken(candidate) {
		return Outcome{Path: candidate}
	}

	switch policy {
	case PolicySkip:
		return Outcome{Path: candidate, Skip: true, Conflict: true}
	case PolicyOverwrite:
		return Outcome{Path: candidate, Conflict: true}
	default:
		return Outcome{Path: nextFree(candidate, taken), Conflict: true}
	}
}

// nextFree 生成 "<主名>_conflict-<n><扩展名>"，n 从 1 开始递增直到路径可用
func nextFree(candidate string, taken func(string) bool) string {
	dir := filepath.Dir(candidate)
	base := filepath.Base(candidate)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		path := filepath.Join(dir, stem+conflictSuffix+strconv.Itoa(n)+ext)
		if !taken(path) {
			return path
		}
	}
}

// Resolver 在单次批处理内解析输出路径，并记录已分配的路径，
// 保证同一批次中的两个文件不会得到相同的输出路径。
type Resolver struct {
	fs     afero.Fs
	policy Policy

	mu      sync.Mutex
	claimed map[string]string // 输出路径 → 占用它的源文件
}

// NewResolver 创建批次级冲突解析器
func NewResolver(fs afero.Fs, policy Policy) *Resolver {
	return &Resolver{
		fs:      fs,
		policy:  policy,
		claimed: make(map[string]string),
	}
}

// Policy 当前策略
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve 为源文件解析最终输出路径并占用该路径。
// 已被本批次其他文件占用的路径视同已存在；覆盖策略下不会覆盖本批次刚分配的路径，
// 而是按追加策略另取新路径。
//
// 已知竞态：存在性检查与之后的写入不是原子操作，若其他进程同时向输出目录写入，
// 仍可能出现同名覆盖。单用户本地工具可以接受此限制。
func (r *Resolver) Resolve(source, candidate string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.claimed[candidate]; ok {
		if owner == source {
			return Outcome{Path: candidate}
		}
		outcome := Outcome{Path: candidate, Conflict: true}
		switch r.policy {
		case PolicySkip:
			outcome.Skip = true
			return outcome
		default:
			outcome.Path = nextFree(candidate, r.taken)
		}
		r.claimed[outcome.Path] = source
		return outcome
	}

	outcome := resolve(candidate, r.policy, r.taken)
	if !outcome.Skip {
		r.claimed[outcome.Path] = source
	}
	return outcome
}

// Claimed 已分配的路径数量
func (r *Resolver) Claimed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claimed)
}

// taken 调用方须持有锁
func (r *Resolver) taken(path string) bool {
	if _, ok := r.claimed[path]; ok {
		return true
	}
	return fsutil.Exists(r.fs, path)
}
