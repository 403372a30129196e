package v8

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/runtime/v8/bridge"
	"rogchap.com/v8go"
)

var flagsOnce sync.Once
var flagsStack int

// Start v8 runtime
func Start(option Option, host bridge.Host) (*Runtime, error) {
	option.Validate()
	setFlags(option.MaxStackDepth)

	compiled, err := lru.New(option.CacheSize)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		option:   option,
		host:     host,
		ready:    make(chan *Isolate, option.MaxSize),
		compiled: compiled,
	}

	for i := 0; i < option.MinSize; i++ {
		iso, err := rt.newIsolate()
		if err != nil {
			rt.Stop()
			return nil, err
		}
		rt.ready <- iso
	}

	log.Info("[V8] runtime started, %d isolates (max %d), %s mode", option.MinSize, option.MaxSize, option.Mode)
	return rt, nil
}

// Stop v8 runtime. Isolates in use are disposed when released.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	rt.mu.Unlock()

	for {
		select {
		case iso := <-rt.ready:
			rt.dispose(iso)
		default:
			rt.compiled.Purge()
			return
		}
	}
}

// Option the validated runtime option
func (rt *Runtime) Option() Option {
	return rt.option
}

// SetHost attach the host services
func (rt *Runtime) SetHost(host bridge.Host) {
	rt.mu.Lock()
	rt.host = host
	rt.mu.Unlock()
}

// Size the number of live isolates
func (rt *Runtime) Size() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.size
}

// setFlags v8 flags are process wide and must be set before the first isolate
func setFlags(depth int) {
	flagsOnce.Do(func() {
		flagsStack = depth
		v8go.SetFlags(
			fmt.Sprintf("--stack-size=%d", stackSize(depth)),
			"--disallow-code-generation-from-strings",
		)
	})
	if depth != flagsStack {
		log.Warn("[V8] the stack depth is process wide, keeping %d (requested %d)", flagsStack, depth)
	}
}
