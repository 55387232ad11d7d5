// Package main provides the cryptcore command-line tool.
//
// cryptcore transforms a file in place by splitting it into chunks and
// processing them in parallel, either as goroutines or as separate worker
// processes. The same binary serves as the worker: when started with the
// worker environment set it processes one chunk and exits.
//
// Settings come from built-in defaults, a .env file, CRYPTCORE_* environment
// variables and command-line flags, in increasing priority.
package main
