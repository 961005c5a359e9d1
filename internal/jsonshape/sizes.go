package jsonshape

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	pixelRe = regexp.MustCompile(`(\d{2,5})\s*[xX×*]\s*(\d{2,5})`)
	ratioRe = regexp.MustCompile(`(\d{1,3})\s*[:：]\s*(\d{1,3})`)
	// Ratios written next to a pixel token are usually parenthesized,
	// in either ASCII or fullwidth form.
	parenRatioRe = regexp.MustCompile(`[(（]\s*(\d{1,3})\s*[:：]\s*(\d{1,3})\s*[)）]`)
)

// ratioDefaults maps a reduced aspect ratio to its canonical default size,
// used when a prompt names a ratio but no explicit pixel size.
var ratioDefaults = map[string]string{
	"1:1":  "1024x1024",
	"4:3":  "1152x864",
	"3:4":  "864x1152",
	"16:9": "1792x1024",
	"9:16": "1024x1792",
	"3:2":  "1536x1024",
	"2:3":  "1024x1536",
	"4:5":  "1024x1280",
	"5:4":  "1280x1024",
	"21:9": "2016x864",
}

// SizeInfo is the result of mining a free-text prompt for size hints.
type SizeInfo struct {
	// Size is "WxH", either explicit or derived from the ratio table.
	Size string
	// Ratio is the reduced "W:H" aspect ratio, from an explicit ratio
	// token or from the pixel dimensions.
	Ratio string
	// FromRatio is set when Size came from the ratio lookup rather than
	// an explicit pixel token.
	FromRatio bool
}

// MineSize finds an explicit pixel token in free text and returns it
// normalized as "WxH".
func MineSize(text string) (string, bool) {
	m := pixelRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1] + "x" + m[2], true
}

// MineRatio finds a ratio token in free text, preferring one inside
// parentheses, and returns it reduced to lowest terms.
func MineRatio(text string) (string, bool) {
	m := parenRatioRe.FindStringSubmatch(text)
	if m == nil {
		m = ratioRe.FindStringSubmatch(text)
	}
	if m == nil {
		return "", false
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return ReduceRatio(w, h)
}

// ReduceRatio reduces w:h to lowest terms.
func ReduceRatio(w, h int) (string, bool) {
	if w <= 0 || h <= 0 {
		return "", false
	}
	d := gcd(w, h)
	return fmt.Sprintf("%d:%d", w/d, h/d), true
}

// DefaultSizeForRatio maps a reduced ratio through the supported-ratio
// table to its canonical default size.
func DefaultSizeForRatio(ratio string) (string, bool) {
	size, ok := ratioDefaults[ratio]
	return size, ok
}

// Infer mines a prompt for both a pixel size and an aspect ratio. With a
// pixel token present the ratio defaults to the reduced pixel dimensions
// unless an explicit ratio token overrides it; with only a ratio token the
// size is mapped through the ratio table.
func Infer(text string) SizeInfo {
	var info SizeInfo

	if size, ok := MineSize(text); ok {
		info.Size = size
		m := pixelRe.FindStringSubmatch(text)
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		if r, ok := ReduceRatio(w, h); ok {
			info.Ratio = r
		}
	}
	if ratio, ok := MineRatio(text); ok {
		info.Ratio = ratio
	}
	if info.Size == "" && info.Ratio != "" {
		if size, ok := DefaultSizeForRatio(info.Ratio); ok {
			info.Size = size
			info.FromRatio = true
		}
	}
	return info
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
