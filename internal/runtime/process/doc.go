// Package process launches supervised binaries as local child processes.
//
// Children are placed in their own process group so that termination
// signals reach the whole tree. Full process-group delivery is only
// guaranteed on Linux; on Windows the runtime falls back to signalling
// the direct child, so grandchildren may outlive it and must be cleaned
// up by the caller.
package process
