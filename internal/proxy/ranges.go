package proxy

import (
	"strconv"
	"strings"
)

// rangeResult 描述 Range 头的解析结论。
type rangeResult int

const (
	// rangeNone 表示请求未携带 Range 头。
	rangeNone rangeResult = iota
	// rangeFull 表示 Range 头格式非法，按整文件 200 降级处理。
	rangeFull
	// rangeValid 表示窗口合法，返回 206。
	rangeValid
	// rangeInvalid 表示格式合法但窗口不可满足（start>=size 或 start>end），返回 416。
	rangeInvalid
)

type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// resolveRange 将 `bytes=start-end` / `bytes=start-` / `bytes=-N` 解析为
// 针对 size 字节文件的闭区间窗口。end 越界时收敛到 size-1。
func resolveRange(header string, size int64) (byteRange, rangeResult) {
	if header == "" {
		return byteRange{}, rangeNone
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, rangeFull
	}
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.Contains(spec, ",") {
		// 多区间请求按非法格式降级为整文件。
		return byteRange{}, rangeFull
	}

	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, rangeFull
	}
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)

	// 后缀形式 -N：取最后 N 字节。
	if startRaw == "" {
		n, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return byteRange{}, rangeFull
		}
		if n <= 0 || size <= 0 {
			return byteRange{}, rangeInvalid
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return byteRange{start: start, end: size - 1}, rangeValid
	}

	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, rangeFull
	}

	end := size - 1
	if endRaw != "" {
		end, err = strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return byteRange{}, rangeFull
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size || start > end {
		return byteRange{}, rangeInvalid
	}
	return byteRange{start: start, end: end}, rangeValid
}
