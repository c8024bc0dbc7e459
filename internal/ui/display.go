// Package ui 终端输出：横幅、状态消息、结果表格与交互提示
package ui

import (
	"os"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

var (
	quietMode bool
	quietMu   sync.RWMutex
)

// SetQuiet 安静模式下不输出任何界面内容，日志与报告不受影响
func SetQuiet(quiet bool) {
	quietMu.Lock()
	defer quietMu.Unlock()

	quietMode = quiet
	if quiet {
		pterm.DisableOutput()
	} else {
		pterm.EnableOutput()
	}
}

// IsQuiet 是否处于安静模式
func IsQuiet() bool {
	quietMu.RLock()
	defer quietMu.RUnlock()
	return quietMode
}

// IsInteractive 标准输入输出都连接到终端且不处于安静模式
func IsInteractive() bool {
	if IsQuiet() {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth 终端宽度，最大120，非终端时为80
func TerminalWidth() int {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
			if width > 120 {
				width = 120
			}
			return width
		}
	}
	return 80
}

// DisplayBanner 显示横幅，bannerType 可选 info, success, warning, error
func DisplayBanner(title string, bannerType string) {
	bg := pterm.BgBlue
	switch bannerType {
	case "success":
		bg = pterm.BgGreen
	case "warning":
		bg = pterm.BgYellow
	case "error":
		bg = pterm.BgRed
	}
	pterm.DefaultHeader.WithFullWidth().WithBackgroundStyle(pterm.NewStyle(bg)).Println(title)
	pterm.Println()
}

// DisplaySuccess 显示成功信息
func DisplaySuccess(message string) {
	pterm.Success.Println(message)
}

// DisplayInfo 显示信息
func DisplayInfo(message string) {
	pterm.Info.Println(message)
}

// DisplayWarning 显示警告信息
func DisplayWarning(message string) {
	pterm.Warning.Println(message)
}

// DisplayError 显示错误信息
func DisplayError(err error) {
	if err == nil {
		return
	}
	pterm.Error.Println(err.Error())
}

// Spinner 加载动画，安静模式下不显示
type Spinner struct {
	printer *pterm.SpinnerPrinter
}

// StartSpinner 启动加载动画
func StartSpinner(message string) *Spinner {
	if IsQuiet() {
		return &Spinner{}
	}
	printer, err := pterm.DefaultSpinner.Start(message)
	if err != nil {
		return &Spinner{}
	}
	printer.Style = &pterm.Style{pterm.FgCyan}
	printer.MessageStyle = &pterm.Style{pterm.FgLightWhite}
	return &Spinner{printer: printer}
}

// UpdateText 更新提示文字
func (s *Spinner) UpdateText(message string) {
	if s.printer != nil {
		s.printer.UpdateText(message)
	}
}

// Success 以成功状态结束
func (s *Spinner) Success(message string) {
	if s.printer != nil {
		s.printer.Success(message)
	}
}

// Fail 以失败状态结束
func (s *Spinner) Fail(message string) {
	if s.printer != nil {
		s.printer.Fail(message)
	}
}
