// Package gimpscript drives GIMP's batch mode from Go. A Runner spawns
// the engine per invocation, writes a wrapped Python script to its
// stdin, and turns the process output back into text, JSON, booleans
// or raw bytes.
//
// Typical use:
//
//	r, err := gimpscript.New()
//	if err != nil {
//		// no engine installed
//	}
//	out, err := r.Execute(ctx, `print("hello")`)
//
// Parameters cross the process boundary as environment variables and
// are read inside the script with the bundled gimpsupport helper
// library:
//
//	out, err := r.ExecuteJSON(ctx,
//		`from gimpsupport.parameter import get_int, return_json
//		 return_json({'doubled': 2 * get_int('n')})`,
//		gimpscript.WithParameters(map[string]any{"n": 21}),
//	)
//
// Every invocation is hard-bounded by a timeout; on expiry the whole
// engine process tree is killed so headless batch jobs cannot leak
// display or interpreter processes.
package gimpscript
