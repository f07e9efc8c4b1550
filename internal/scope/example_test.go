package scope_test

import (
	"context"
	"fmt"

	"github.com/roach88/ambient/internal/scope"
)

func ExampleRegistry_Run() {
	reg := scope.NewRegistry(scope.WithObserver(scope.NopObserver{}))

	greet := func(ctx context.Context) {
		h, ok := scope.Current(ctx)
		if !ok {
			fmt.Println("no scope")
			return
		}
		fmt.Println("hello", h.Get("user"))
	}

	_ = reg.Run(context.Background(), scope.Data{"user": "alice"}, func(ctx context.Context) error {
		greet(ctx)
		return nil
	})
	greet(context.Background())

	// Output:
	// hello alice
	// no scope
}

func ExampleHandle_OnCancel() {
	reg := scope.NewRegistry(scope.WithObserver(scope.NopObserver{}))

	_ = reg.Run(context.Background(), nil, func(ctx context.Context) error {
		h := scope.MustCurrent(ctx)
		h.OnCancel(func() { fmt.Println("close connection") })
		h.OnCancel(func() { fmt.Println("release lock") })

		h.Cancel()
		h.Cancel()

		h.OnCancel(func() { fmt.Println("late cleanup") })
		return nil
	})

	// Output:
	// close connection
	// release lock
	// late cleanup
}

func ExampleRequire() {
	_, err := scope.Require(context.Background())
	fmt.Println(err)

	// Output:
	// no active scope: call inside scope.Run, or restore a captured store with scope.RunWith
}
