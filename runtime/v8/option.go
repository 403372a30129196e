package v8

import (
	"time"

	"github.com/yaoapp/kun/log"
)

const (
	defaultMemoryCeiling uint64 = 67108864 // 64M
	maxMemoryCeiling     uint64 = 1073741824
	defaultScriptSize           = 1048576 // 1M
	maxScriptSize               = 16777216
	defaultStackDepth           = 1000
	maxStackDepth               = 10000
)

// Validate the option
func (option *Option) Validate() {

	if option.MinSize == 0 {
		option.MinSize = 2
	}

	if option.MaxSize == 0 {
		option.MaxSize = 10
	}

	if option.MinSize > 100 {
		log.Warn("[V8] the maximum value of minSize is 100")
		option.MinSize = 100
	}

	if option.MaxSize > 100 {
		log.Warn("[V8] the maximum value of maxSize is 100")
		option.MaxSize = 100
	}

	if option.MinSize > option.MaxSize {
		log.Warn("[V8] the minSize value should smaller than maxSize")
		option.MaxSize = option.MinSize
	}

	if option.IsolateUses <= 0 {
		option.IsolateUses = 1000
	}

	if option.CacheSize <= 0 {
		option.CacheSize = 256
	}

	if option.SampleInterval <= 0 {
		option.SampleInterval = 5 * time.Millisecond
	}

	if option.Mode != "development" {
		option.Mode = "production"
	}

	option.Limits.Validate()

	if option.HeapSizeRelease == 0 {
		option.HeapSizeRelease = option.MemoryCeiling / 2
	}

	if option.HeapSizeRelease >= option.MemoryCeiling {
		log.Warn("[V8] heapSizeRelease should be smaller than the memory ceiling")
		option.HeapSizeRelease = option.MemoryCeiling / 2
	}
}

// Validate the limits
func (limits *Limits) Validate() {

	if limits.MemoryCeiling == 0 {
		limits.MemoryCeiling = defaultMemoryCeiling
	}

	if limits.MemoryCeiling > maxMemoryCeiling {
		log.Warn("[V8] the maximum value of memoryCeiling is %d(1G)", maxMemoryCeiling)
		limits.MemoryCeiling = maxMemoryCeiling
	}

	if limits.Timeout <= 0 {
		limits.Timeout = 5 * time.Second
	}

	if limits.MaxStackDepth <= 0 {
		limits.MaxStackDepth = defaultStackDepth
	}

	if limits.MaxStackDepth > maxStackDepth {
		log.Warn("[V8] the maximum value of maxStackDepth is %d", maxStackDepth)
		limits.MaxStackDepth = maxStackDepth
	}

	if limits.MaxScriptSize <= 0 {
		limits.MaxScriptSize = defaultScriptSize
	}

	if limits.MaxScriptSize > maxScriptSize {
		log.Warn("[V8] the maximum value of maxScriptSize is %d(16M)", maxScriptSize)
		limits.MaxScriptSize = maxScriptSize
	}
}

// stackSize the v8 --stack-size value in KB for a frame budget
func stackSize(depth int) int {
	kb := depth * 256 / 1024
	if kb < 64 {
		return 64
	}
	if kb > 984 {
		return 984
	}
	return kb
}
