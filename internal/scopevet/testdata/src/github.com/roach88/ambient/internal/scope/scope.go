// Package scope is a minimal stand-in for the real scope package, exposing
// only the accessor signatures the analyzer matches on.
package scope

import "context"

type Handle struct{}

func (Handle) Get(key string) any { return nil }

func Current(ctx context.Context) (Handle, bool) { return Handle{}, false }

func Require(ctx context.Context) (Handle, error) { return Handle{}, nil }

func MustCurrent(ctx context.Context) Handle { return Handle{} }

func HasScope(ctx context.Context) bool { return false }

func Go(ctx context.Context, fn func(context.Context)) {}

func Run(ctx context.Context, op func(context.Context) error) error { return op(ctx) }
