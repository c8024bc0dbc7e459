package version

import (
	"fmt"
	"runtime"
)

// 版本号
const (
	Major = 2
	Minor = 0
	Patch = 0

	Version           = "2.0.0"
	VersionWithPrefix = "v" + Version
)

// 构建时通过 -ldflags "-X iwms/internal/version.GitCommit=..." 注入
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersion 不带前缀的版本号
func GetVersion() string {
	return Version
}

// GetVersionWithPrefix 带 v 前缀的版本号
func GetVersionWithPrefix() string {
	return VersionWithPrefix
}

// GetFullVersionInfo 版本号、构建信息和运行平台
func GetFullVersionInfo() string {
	return fmt.Sprintf("%s (built at %s, commit %s, %s %s/%s)",
		VersionWithPrefix, BuildTime, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
