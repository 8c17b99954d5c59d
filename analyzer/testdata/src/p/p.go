package p

// The analyzer matches orchestrations by the `workflow.Context` selector
import (
	workflow "context"
	"fmt"
)

func orchestration(ctx workflow.Context) error {
	return nil
}

func orchestrationWithResult(ctx workflow.Context) (string, error) {
	return "", nil
}

func notAnOrchestration(ctx fmt.Stringer) {
	go func() {}()
}

func withTooManyResults(ctx workflow.Context) (int, string, error) { // want "orchestration \"withTooManyResults\" returns more than two values"
	return 42, "", nil
}

func wrongOrder(ctx workflow.Context) (error, string) { // want "orchestration \"wrongOrder\" doesn't return `error` as last return value"
	return nil, ""
}

func withoutReturn(ctx workflow.Context) { // want "orchestration \"withoutReturn\" doesn't return anything. needs to return at least `error`"
}

func iteratingOverMap(ctx workflow.Context) error {
	x := make(map[string]string)

	fmt.Println("log")

	for i := 0; i < 2; i++ {
		for _, v := range x { // want "iterating over a map is not deterministic and not allowed in orchestrations"
			if v == "a" {
				return nil
			}
		}
	}

	return nil
}

func usingGoroutine(ctx workflow.Context) error {
	go func() { // want "orchestrations must not start goroutines, schedule activities instead"
		fmt.Println("hello")
	}()

	return nil
}

func usingSelect(ctx workflow.Context) error {
	c := make(chan int)

	select { // want "select is not allowed in orchestrations, use workflow.WaitAny"
	case <-c:
	default:
	}

	return nil
}
