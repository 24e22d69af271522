// Package scriptbox runs small untrusted scripts without exposing the host.
//
// Scripts are written in a Python-flavored dialect of Starlark. Each run is
// screened by a static guard against a versioned denylist of modules, calls
// and attributes, then executed in an allow-list namespace under CPU, memory
// and wall-clock budgets. Two isolation strategies share one result
// contract:
//
//   - process: the host binary re-executes itself as a disposable child
//     that applies resource limits, Landlock and seccomp before running
//     the script
//   - thread: the script runs on a single worker goroutine inside the host,
//     bounded by cooperative watchdogs
//
// Script failures are reported in Result, never as a Go error.
//
// Basic usage:
//
//	func main() {
//	    if scriptbox.MaybeSandboxInit() {
//	        return
//	    }
//	    r, err := scriptbox.New(scriptbox.DefaultConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer r.Close()
//
//	    res, err := r.Run(ctx, "result = sum(input_data)", []int{1, 2, 3})
//	}
package scriptbox
