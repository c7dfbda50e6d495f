// Package transport is the boundary between the block API layer and the
// network.
//
// Ownership boundary:
// - channel establishment and reuse per remote host
// - request message ownership between Send and completion
// - wire mapping of request messages onto frames
//
// A Message handed to Send or SendAndWait belongs to the engine until it is
// completed. Async completions are delivered on engine goroutines through the
// CompletionFunc given at construction; sync completions unblock the waiter
// and never reach the CompletionFunc.
package transport
