package bridge

import (
	"fmt"

	"rogchap.com/v8go"
)

// Settle resolves a returned promise by draining the microtask queue. Guest code has
// no timers, so a promise still pending after the checkpoint can never settle.
func Settle(ctx *v8go.Context, value *v8go.Value) (*v8go.Value, error) {
	if value == nil || !value.IsPromise() {
		return value, nil
	}

	promise, err := value.AsPromise()
	if err != nil {
		return nil, err
	}

	ctx.PerformMicrotaskCheckpoint()
	switch promise.State() {
	case v8go.Fulfilled:
		return promise.Result(), nil

	case v8go.Rejected:
		return nil, Rejection(ctx, promise.Result())
	}
	return nil, fmt.Errorf("the returned promise never settled")
}

// Rejection converts a rejected value into a JSError carrying its message and stack
func Rejection(ctx *v8go.Context, reason *v8go.Value) error {
	if reason == nil {
		return &v8go.JSError{Message: "Uncaught (in promise) undefined"}
	}

	if reason.IsNativeError() {
		obj, err := reason.AsObject()
		if err == nil {
			jsErr := &v8go.JSError{Message: reason.String()}
			if stack, err := obj.Get("stack"); err == nil && stack.IsString() {
				jsErr.StackTrace = stack.String()
			}
			return jsErr
		}
	}

	if reason.IsObject() {
		if text, err := v8go.JSONStringify(ctx, reason); err == nil {
			return &v8go.JSError{Message: "Uncaught (in promise) " + text}
		}
	}
	return &v8go.JSError{Message: "Uncaught (in promise) " + reason.String()}
}
