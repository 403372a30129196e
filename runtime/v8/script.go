package v8

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
	"github.com/zeebo/blake3"
	"rogchap.com/v8go"
)

// Compile normalize, inspect and syntax check a guest script. The size ceiling is
// checked before anything else; results are cached by content.
func (rt *Runtime) Compile(id string, file string, source string) (*Script, error) {
	if file == "" {
		file = id + ".js"
	}

	if len(source) > rt.option.MaxScriptSize {
		return nil, failure.New(failure.ScriptTooLarge, "%s is %d bytes, the limit is %d", id, len(source), rt.option.MaxScriptSize)
	}

	hash := Hash(file, source)
	if cached, has := rt.compiled.Get(hash); has {
		script := *cached.(*Script)
		script.ID = id
		return &script, nil
	}

	code, smap, err := Transform(source, file)
	if err != nil {
		return nil, err
	}

	script := &Script{
		ID:     id,
		File:   file,
		Source: source,
		Code:   code,
		Map:    smap,
		Hash:   hash,
		Size:   len(source),
	}

	if violation := Inspect(code, file); violation != nil {
		violation.locate(script)
		return nil, failure.New(failure.SecurityPolicyViolation, "%s", violation.Error())
	}

	if err := rt.check(script); err != nil {
		return nil, err
	}

	rt.compiled.Add(hash, script)
	log.Trace("[V8] compiled %s (%s, %d bytes)", id, file, script.Size)
	return script, nil
}

// Hash the cache key of a source
func Hash(file string, source string) string {
	sum := blake3.Sum256([]byte(file + "\x00" + source))
	return hex.EncodeToString(sum[:])
}

// Transform normalize TypeScript or modern JavaScript into the dialect the policy
// inspector reads. TypeScript gets an external source map.
func Transform(source string, file string) (string, []byte, error) {
	loader := api.LoaderJS
	if strings.HasSuffix(file, ".ts") {
		loader = api.LoaderTS
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:         loader,
		Target:         api.ES2020,
		Sourcefile:     file,
		Sourcemap:      api.SourceMapExternal,
		SourcesContent: api.SourcesContentExclude,
	})

	if len(result.Errors) > 0 {
		messages := []string{}
		for _, err := range result.Errors {
			if err.Location != nil {
				messages = append(messages, fmt.Sprintf("%s:%d:%d %s", file, err.Location.Line, err.Location.Column+1, err.Text))
				continue
			}
			messages = append(messages, err.Text)
		}
		return "", nil, failure.New(failure.SyntaxError, "%s", strings.Join(messages, "\n"))
	}

	var smap []byte
	if loader == api.LoaderTS {
		smap = result.Map
	}
	return string(result.Code), smap, nil
}

// check the normalized code compiles on v8
func (rt *Runtime) check(script *Script) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iso, err := rt.acquire(ctx)
	if err != nil {
		return err
	}
	defer rt.release(iso)

	if _, err := iso.compile(script); err != nil {
		message := err.Error()
		if jsErr, ok := err.(*v8go.JSError); ok {
			message = jsErr.Message
			if jsErr.Location != "" {
				message = fmt.Sprintf("%s (%s)", jsErr.Message, rt.location(script, jsErr.Location))
			}
		}
		return failure.New(failure.SyntaxError, "%s", message)
	}
	return nil
}
