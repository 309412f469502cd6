package ansicolor

import (
	"os"
	"runtime"
)

// Escape codes for the pretty log writer. Everything collapses to "" when
// colors are disabled, so callers can concatenate unconditionally.

var Reset = "\033[0m"
var Bold = "\033[1m"
var Faint = "\033[2m"

var Red = "\033[31m"
var Green = "\033[32m"
var Yellow = "\033[33m"
var Blue = "\033[34m"
var Gray = "\033[37m"

var BgRed = "\033[41m"
var BgYellow = "\033[43m"
var BgBlue = "\033[44m"

func init() {
	// https://no-color.org
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor || runtime.GOOS == "windows" {
		Disable()
	}
}

func Disable() {
	Reset, Bold, Faint = "", "", ""
	Red, Green, Yellow, Blue, Gray = "", "", "", "", ""
	BgRed, BgYellow, BgBlue = "", "", ""
}
