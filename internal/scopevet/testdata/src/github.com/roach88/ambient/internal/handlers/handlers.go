// Package handlers contains fixtures for the scopevet analyzer.
package handlers

import (
	"context"

	"github.com/roach88/ambient/internal/scope"
)

// ===== SHOULD REPORT =====

func badCurrent(ctx context.Context) {
	h, _ := scope.Current(context.Background()) // want `scope\.Current called with context\.Background\(\); pass "ctx" to see the caller's scope`
	_ = h
}

func badRequireTODO(ctx context.Context) error {
	_, err := scope.Require(context.TODO()) // want `scope\.Require called with context\.TODO\(\)`
	return err
}

func badMustCurrent(reqCtx context.Context) any {
	return scope.MustCurrent(context.Background()).Get("user") // want `pass "reqCtx"`
}

func badHasScopeParens(ctx context.Context) bool {
	return scope.HasScope((context.Background())) // want `scope\.HasScope called with context\.Background\(\)`
}

func badGo(ctx context.Context) {
	scope.Go(context.Background(), func(context.Context) {}) // want `scope\.Go called with context\.Background\(\)`
}

func badInClosure(ctx context.Context) {
	fn := func() {
		scope.HasScope(context.Background()) // want `pass "ctx"`
	}
	fn()
}

func badInCallback(ctx context.Context) error {
	return scope.Run(ctx, func(inner context.Context) error {
		_, err := scope.Require(context.TODO()) // want `pass "inner"`
		return err
	})
}

// ===== SHOULD NOT REPORT =====

func goodPassesCtx(ctx context.Context) bool {
	return scope.HasScope(ctx)
}

func goodDerivedCtx(ctx context.Context) bool {
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	return scope.HasScope(child)
}

// No context in reach, so Background is the only choice.
func goodNoContextParam() bool {
	return scope.HasScope(context.Background())
}

func goodBlankContextParam(_ context.Context) bool {
	return scope.HasScope(context.Background())
}

func goodIgnored(ctx context.Context) bool {
	//scopevet:ignore - probe for a global scope on purpose
	return scope.HasScope(context.Background())
}

func goodIgnoredSameLine(ctx context.Context) bool {
	return scope.HasScope(context.Background()) //scopevet:ignore
}

func goodStoredBackground(ctx context.Context) bool {
	bg := context.Background()
	return scope.HasScope(bg)
}
