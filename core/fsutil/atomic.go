package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// tempSuffix 临时文件后缀，写入完成后原子重命名为目标文件
const tempSuffix = ".iwms-tmp."

// WriteFileAtomic 原子写入文件
// 步骤1: 创建临时文件
// 步骤2: 写入内容
// 步骤3: 同步到磁盘
// 步骤4: 重命名为目标文件
func WriteFileAtomic(fs afero.Fs, path string, write func(w io.Writer) error) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("无法创建目标目录: %w", err)
	}

	tempPath := path + tempSuffix + strconv.FormatInt(time.Now().UnixNano(), 36)
	tempFile, err := fs.Create(tempPath)
	if err != nil {
		return fmt.Errorf("步骤1失败 - 无法创建临时文件: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tempFile.Close()
			_ = fs.Remove(tempPath)
		}
	}()

	if err := write(tempFile); err != nil {
		return fmt.Errorf("步骤2失败 - 无法写入临时文件: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("步骤3失败 - 无法同步临时文件: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("无法关闭临时文件: %w", err)
	}
	if err := fs.Rename(tempPath, path); err != nil {
		_ = fs.Remove(tempPath)
		committed = true
		return fmt.Errorf("步骤4失败 - 无法重命名临时文件: %w", err)
	}
	committed = true
	return nil
}

// CopyFile 逐字节复制文件，目标已存在时覆盖
func CopyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("无法打开源文件: %w", err)
	}
	defer in.Close()

	return WriteFileAtomic(fs, dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// MoveFile 移动文件，优先重命名；跨设备等重命名失败时复制后删除源文件
func MoveFile(fs afero.Fs, src, dst string) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("无法创建目标目录: %w", err)
	}
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(fs, src, dst); err != nil {
		return err
	}
	if err := fs.Remove(src); err != nil {
		return fmt.Errorf("已复制但无法删除源文件: %w", err)
	}
	return nil
}

// Exists 检查路径是否存在
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// FileSize 返回文件大小（字节）
func FileSize(fs afero.Fs, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
