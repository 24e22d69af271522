package scriptbox

// MaybeSandboxInit checks whether the current process was re-executed as a
// sandbox child. If so, it runs the submitted script, writes the result for
// the parent and exits; it never returns true to the caller. Otherwise it
// returns false.
//
// Call this at the very beginning of main() before any other initialization,
// and from TestMain in packages whose tests use process isolation:
//
//	func main() {
//	    if scriptbox.MaybeSandboxInit() {
//	        return
//	    }
//	    // ... rest of main
//	}
func MaybeSandboxInit() bool {
	return maybeSandboxInitChild()
}
