// Package organize 在目录内整理已有文件：按主文件名重新编号，或按前缀移动到子目录
package organize

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iwms/core/fsutil"
	"iwms/core/naming"
)

// Mode 重新编号模式
type Mode string

const (
	// ModePrimaryPlain 主图保持 base.ext，其余按原编号顺序压缩为 (1..k)
	ModePrimaryPlain Mode = "a"
	// ModeAllNumbered 组内所有文件统一编号为 (1..k)，主图为 (1)
	ModeAllNumbered Mode = "b"
)

// ParseMode 解析编号模式
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePrimaryPlain, "":
		return ModePrimaryPlain, nil
	case ModeAllNumbered:
		return ModeAllNumbered, nil
	}
	return "", fmt.Errorf("未知的编号模式: %q (可选: a, b)", s)
}

// RenumberExtensions 参与重新编号的扩展名
var RenumberExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp"}

// Rename 一次重命名计划
type Rename struct {
	Dir     string `json:"dir"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
	Reason  string `json:"reason"`
}

// Changed 名称是否变化
func (r Rename) Changed() bool {
	return r.OldName != r.NewName
}

// Group 同一目录下主文件名相同的文件，主图在前，从图按编号升序
type Group struct {
	Dir   string   `json:"dir"`
	Base  string   `json:"base"`
	Files []string `json:"files"`
}

// Plan 重新编号计划
type Plan struct {
	Mode    Mode     `json:"mode"`
	Groups  []Group  `json:"groups"`
	Renames []Rename `json:"renames"`
	// Unmatched 扩展名不参与编号的文件，保持原名
	Unmatched []string `json:"unmatched"`
}

// WillRename 名称会变化的文件数量
func (p *Plan) WillRename() int {
	n := 0
	for _, r := range p.Renames {
		if r.Changed() {
			n++
		}
	}
	return n
}

type member struct {
	name   string
	parsed naming.ParsedName
	seq    int
	main   bool
}

// less 主图在前，从图按编号数值升序，其余按名称
func (m member) less(o member) bool {
	if m.main != o.main {
		return m.main
	}
	if m.seq != o.seq {
		return m.seq < o.seq
	}
	return m.name < o.name
}

type groupKey struct {
	dir  string
	base string
}

// PlanRenumber 按目录和主文件名分组，生成重新编号计划，不修改文件
func PlanRenumber(files []string, mode Mode, exts []string) *Plan {
	if len(exts) == 0 {
		exts = RenumberExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	plan := &Plan{Mode: mode}
	groups := make(map[groupKey][]member)
	var keys []groupKey

	for _, path := range files {
		name := filepath.Base(path)
		parsed := naming.ParseFileName(name)
		if !allowed[strings.ToLower(parsed.Extension)] || parsed.Base == "" {
			plan.Unmatched = append(plan.Unmatched, path)
			continue
		}
		seq, numbered := parsed.SequenceNumber()
		key := groupKey{dir: filepath.Dir(path), base: parsed.Base}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], member{name: name, parsed: parsed, seq: seq, main: !numbered})
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dir != keys[j].dir {
			return keys[i].dir < keys[j].dir
		}
		return naturalLess(keys[i].base, keys[j].base)
	})

	for _, key := range keys {
		members := groups[key]
		sort.SliceStable(members, func(i, j int) bool { return members[i].less(members[j]) })

		group := Group{Dir: key.dir, Base: key.base}
		for _, m := range members {
			group.Files = append(group.Files, m.name)
		}
		plan.Groups = append(plan.Groups, group)
		plan.Renames = append(plan.Renames, renumberGroup(key, members, mode)...)
	}
	return plan
}

// renumberGroup 为已排序的组生成目标名称
func renumberGroup(key groupKey, members []member, mode Mode) []Rename {
	renames := make([]Rename, 0, len(members))
	next := 1
	for i, m := range members {
		ext := strings.ToLower(m.parsed.Extension)
		r := Rename{Dir: key.dir, OldName: m.name}

		if mode == ModePrimaryPlain && i == 0 {
			r.NewName = key.base + ext
			switch {
			case !m.main:
				r.Reason = "从图提升为主图"
			case r.Changed():
				r.Reason = "主图标准化"
			default:
				r.Reason = "主图保持不变"
			}
			renames = append(renames, r)
			continue
		}

		r.NewName = key.base + " (" + strconv.Itoa(next) + ")" + ext
		switch {
		case !r.Changed():
			r.Reason = "保持不变"
		case m.main:
			r.Reason = fmt.Sprintf("主图编号: 无 → %d", next)
		default:
			r.Reason = fmt.Sprintf("从图重新编号: %s → %d", m.parsed.Sequence, next)
		}
		renames = append(renames, r)
		next++
	}
	return renames
}

// naturalLess 数字按数值比较的自然排序
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := leadingDigits(a), leadingDigits(b)
		if da != "" && db != "" {
			na, _ := strconv.ParseUint(da, 10, 64)
			nb, _ := strconv.ParseUint(db, 10, 64)
			if na != nb {
				return na < nb
			}
			a, b = a[len(da):], b[len(db):]
			continue
		}
		if ca, cb := lowerASCII(a[0]), lowerASCII(b[0]); ca != cb {
			return ca < cb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// 重命名结果状态
const (
	StatusRenamed   = "renamed"
	StatusUnchanged = "unchanged"
	StatusFailed    = "failed"
)

// RenameResult 单个文件的重命名结果
type RenameResult struct {
	Rename
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RenumberReport 重新编号结果
type RenumberReport struct {
	Results   []RenameResult `json:"results"`
	Renamed   int            `json:"renamed"`
	Unchanged int            `json:"unchanged"`
	Failed    int            `json:"failed"`
}

// ApplyRenumber 两阶段执行重命名：先全部改为临时名称，再改为目标名称，
// 组内名称互换时不会相互覆盖。第二阶段失败的文件恢复原名。
func ApplyRenumber(fs afero.Fs, plan *Plan, logger *zap.Logger) *RenumberReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("organize")

	report := &RenumberReport{Results: make([]RenameResult, len(plan.Renames))}
	tempSuffix := ".__tmp__" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sources := make(map[string]bool, len(plan.Renames))
	for _, r := range plan.Renames {
		sources[filepath.Join(r.Dir, r.OldName)] = true
	}

	temps := make([]string, len(plan.Renames))
	for i, r := range plan.Renames {
		res := RenameResult{Rename: r, Status: StatusUnchanged}
		if r.Changed() {
			oldPath := filepath.Join(r.Dir, r.OldName)
			newPath := filepath.Join(r.Dir, r.NewName)
			// 目标被计划外的文件占用
			if !sources[newPath] && fsutil.Exists(fs, newPath) {
				res.Status = StatusFailed
				res.Error = "目标文件已存在: " + r.NewName
			} else if err := fs.Rename(oldPath, oldPath+tempSuffix); err != nil {
				res.Status = StatusFailed
				res.Error = err.Error()
			} else {
				temps[i] = oldPath + tempSuffix
			}
		}
		report.Results[i] = res
	}

	for i, r := range plan.Renames {
		if temps[i] == "" {
			continue
		}
		res := &report.Results[i]
		newPath := filepath.Join(r.Dir, r.NewName)
		var err error
		if fsutil.Exists(fs, newPath) {
			// 占用目标的计划内文件第一阶段失败，仍在原位
			err = fmt.Errorf("目标文件已存在: %s", r.NewName)
		} else {
			err = fs.Rename(temps[i], newPath)
		}
		if err != nil {
			if restoreErr := fs.Rename(temps[i], filepath.Join(r.Dir, r.OldName)); restoreErr != nil {
				logger.Error("恢复原文件名失败", zap.String("file", temps[i]), zap.Error(restoreErr))
			}
			res.Status = StatusFailed
			res.Error = err.Error()
			continue
		}
		res.Status = StatusRenamed
	}

	for _, res := range report.Results {
		switch res.Status {
		case StatusRenamed:
			report.Renamed++
		case StatusFailed:
			report.Failed++
			logger.Warn("重命名失败", zap.String("file", res.OldName), zap.String("error", res.Error))
		default:
			report.Unchanged++
		}
	}
	logger.Info("重新编号完成",
		zap.Int("renamed", report.Renamed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed))
	return report
}
