// Package config assembles cryptcore's run options.
//
// Options are layered, lowest priority first: built-in defaults, a .env file,
// CRYPTCORE_* environment variables and finally command-line flags. The first
// three are handled here; the command applies its flags on top of the result
// of Load. Values that fail to parse are logged and ignored so a bad
// environment never prevents startup with defaults.
package config
