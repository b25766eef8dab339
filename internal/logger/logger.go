// Package logger provides a tagged, color-aware console logger used across
// memetrader's components so operators see a consistent [TAG] message style
// whether the line came from the ingestor, the risk manager, or main.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

const (
	colReset  = "\033[0m"
	colGray   = "\033[90m"
	colGreen  = "\033[32m"
	colYellow = "\033[33m"
	colRed    = "\033[31m"
	colCyan   = "\033[36m"
	colBold   = "\033[1m"
)

func paint(col, s string) string {
	if !colorEnabled {
		return s
	}
	return col + s + colReset
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func line(col, level, tag, msg string) {
	fmt.Printf("%s %s [%s] %s\n",
		paint(colGray, stamp()),
		paint(col, level),
		paint(colBold, tag),
		msg,
	)
}

// Info logs a neutral informational message under tag.
func Info(tag, msg string) { line(colCyan, "INFO", tag, msg) }

// Success logs a positive-outcome message under tag.
func Success(tag, msg string) { line(colGreen, " OK ", tag, msg) }

// Warn logs a recoverable-problem message under tag.
func Warn(tag, msg string) { line(colYellow, "WARN", tag, msg) }

// Error logs a failure under tag. It does not exit the process; callers
// decide whether the condition is fatal.
func Error(tag, msg string) { line(colRed, "ERR ", tag, msg) }

// Banner prints the startup banner once, at process boot.
func Banner(version string) {
	v := version
	if v == "" {
		v = "dev"
	}
	fmt.Println(paint(colBold, strings.Repeat("=", 48)))
	fmt.Println(paint(colBold, fmt.Sprintf("  memetrader %s — memecoin trading engine", v)))
	fmt.Println(paint(colBold, strings.Repeat("=", 48)))
}

// Section prints a visual divider labeling the next block of output.
func Section(name string) {
	fmt.Printf("\n%s %s %s\n", paint(colGray, "──"), paint(colBold, name), paint(colGray, strings.Repeat("─", 40)))
}

// Stats logs a single labeled numeric statistic, comma-grouped for readability.
func Stats(key string, value int) {
	fmt.Printf("  %s: %s\n", paint(colGray, key), humanize.Comma(int64(value)))
}

// StatsF logs a single labeled floating-point statistic (quote-denominated
// sizes, PnL, capital figures).
func StatsF(key string, value float64) {
	fmt.Printf("  %s: %s\n", paint(colGray, key), humanize.Commaf(value))
}
