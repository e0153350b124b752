// Package report mirrors an action tree into a tree of Nodes and records,
// per node, how often it ran and how each run ended.
//
// A Reporter is an api.Interceptor. Installed on an engine, it sees every
// node entry and exit, maps the running action back to its Node and updates
// that Node's result. Because Retry and ForEach run the same child many
// times, and because the same *api.Action may be referenced from several
// parents, results are keyed by the Node's path ("0/1/0": the root, its
// second child, that child's first child), never by the action itself.
//
// After the run, Render prints the mirror tree as an indented trace:
//
//	✔ deploy (1x)
//	  ✔ sequence (1x)
//	    ! upload (3x)
//	    · notify (0x)
package report
