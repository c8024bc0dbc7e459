package organize

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iwms/core/conflict"
	"iwms/core/fsutil"
	"iwms/core/naming"
)

// UnclassifiedFolder 前缀为空时使用的目录名
const UnclassifiedFolder = "__UNCLASSIFIED__"

// GroupExtensions 按前缀分目录时处理的扩展名
var GroupExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".tif", ".tiff", ".gif"}

// folderNameReplacer 目录名中的非法字符统一替换为下划线
var folderNameReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// GroupOptions 按前缀分目录的选项
type GroupOptions struct {
	// Extensions 为空时使用 GroupExtensions
	Extensions []string
	// CaseSensitive 为false时前缀统一转为小写
	CaseSensitive bool
	// Sanitize 替换目录名中的非法字符并限制长度
	Sanitize bool
	// MaxFolderNameLength 目录名最大字符数
	MaxFolderNameLength int
	Policy              conflict.Policy
}

// DefaultGroupOptions 默认选项
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{
		Sanitize:            true,
		MaxFolderNameLength: 100,
		Policy:              conflict.PolicySkip,
	}
}

// 移动状态
const (
	MoveStatusPlanned = "planned"
	MoveStatusMoved   = "moved"
	MoveStatusSkipped = "skipped"
	MoveStatusFailed  = "failed"
)

// Move 单个文件的移动记录
type Move struct {
	Source string `json:"source"`
	// Target 计划时为候选路径，执行后为实际路径
	Target string    `json:"target"`
	Folder string    `json:"folder"`
	Prefix string    `json:"prefix"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time,omitempty"`
}

// SanitizeFolderName 替换非法字符、合并空白；超长时截断并追加8位md5
func SanitizeFolderName(name string, maxLength int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return UnclassifiedFolder
	}
	name = strings.Join(strings.Fields(folderNameReplacer.Replace(name)), " ")
	if maxLength > 9 && utf8.RuneCountInString(name) > maxLength {
		sum := md5.Sum([]byte(name))
		runes := []rune(name)
		name = string(runes[:maxLength-9]) + "_" + hex.EncodeToString(sum[:])[:8]
	}
	if name == "" || name == "." || name == ".." {
		return UnclassifiedFolder
	}
	return name
}

// PlanGroups 按文件名前缀（去掉编号和扩展名）计算每个文件的目标目录 <root>/<前缀>。
// 已经位于目标目录中的文件标记为跳过。
func PlanGroups(root string, files []string, opts GroupOptions) []Move {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = GroupExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	var moves []Move
	for _, path := range files {
		name := filepath.Base(path)
		if !allowed[strings.ToLower(filepath.Ext(name))] {
			continue
		}

		prefix := naming.ParseFileName(name).Base
		if !opts.CaseSensitive {
			prefix = strings.ToLower(prefix)
		}
		folder := prefix
		if opts.Sanitize || folder == "" {
			folder = SanitizeFolderName(prefix, opts.MaxFolderNameLength)
		}

		dir := filepath.Join(root, folder)
		move := Move{
			Source: path,
			Target: filepath.Join(dir, name),
			Folder: folder,
			Prefix: prefix,
			Status: MoveStatusPlanned,
		}
		switch {
		case !fsutil.IsWithin(root, dir):
			move.Status = MoveStatusSkipped
			move.Reason = "目录名超出根目录"
		case filepath.Clean(filepath.Dir(path)) == filepath.Clean(dir):
			move.Status = MoveStatusSkipped
			move.Reason = "已在目标目录中"
		}
		moves = append(moves, move)
	}

	sort.SliceStable(moves, func(i, j int) bool {
		if moves[i].Folder != moves[j].Folder {
			return naturalLess(moves[i].Folder, moves[j].Folder)
		}
		return moves[i].Source < moves[j].Source
	})
	return moves
}

// GroupReport 按前缀分目录的执行结果
type GroupReport struct {
	Moves   []Move   `json:"moves"`
	Folders []string `json:"folders"`
	Moved   int      `json:"moved"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
}

// ApplyGroups 创建目录并移动文件，目标已存在时按冲突策略处理
func ApplyGroups(fs afero.Fs, moves []Move, policy conflict.Policy, logger *zap.Logger) *GroupReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("organize")

	report := &GroupReport{Moves: make([]Move, len(moves))}
	resolver := conflict.NewResolver(fs, policy)
	created := make(map[string]bool)

	for i, m := range moves {
		m.Time = time.Now()
		if m.Status != MoveStatusPlanned {
			report.Moves[i] = m
			continue
		}

		dir := filepath.Dir(m.Target)
		if !created[dir] {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				m.Status, m.Reason = MoveStatusFailed, "创建目录失败: "+err.Error()
				report.Moves[i] = m
				continue
			}
			created[dir] = true
			report.Folders = append(report.Folders, dir)
		}

		outcome := resolver.Resolve(m.Source, m.Target)
		if outcome.Skip {
			m.Status, m.Reason = MoveStatusSkipped, "目标文件已存在"
			report.Moves[i] = m
			continue
		}
		m.Target = outcome.Path
		if err := fsutil.MoveFile(fs, m.Source, m.Target); err != nil {
			m.Status, m.Reason = MoveStatusFailed, err.Error()
			logger.Warn("移动文件失败", zap.String("source", m.Source), zap.Error(err))
		} else {
			m.Status = MoveStatusMoved
			if outcome.Conflict {
				m.Reason = "目标已存在，按策略 " + string(policy) + " 处理"
			}
		}
		report.Moves[i] = m
	}

	for _, m := range report.Moves {
		switch m.Status {
		case MoveStatusMoved:
			report.Moved++
		case MoveStatusFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	logger.Info("按前缀分目录完成",
		zap.Int("moved", report.Moved),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("folders", len(report.Folders)))
	return report
}

// moveLogHeader 移动日志表头
var moveLogHeader = []string{"source_path", "dest_path", "status", "timestamp", "error"}

// WriteMoveLog 写出移动日志CSV，只包含已移动和失败的记录
func WriteMoveLog(w io.Writer, moves []Move) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(moveLogHeader); err != nil {
		return err
	}
	for _, m := range moves {
		var dest, errMsg string
		switch m.Status {
		case MoveStatusMoved:
			dest = m.Target
		case MoveStatusFailed:
			errMsg = m.Reason
		default:
			continue
		}
		row := []string{m.Source, dest, m.Status, m.Time.Format(time.RFC3339), errMsg}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
