// Package output renders sessionkeep command results.
//
// Commands hand a value to a Formatter picked by --output: table for
// people, json and yaml for scripts. Values that know their own layout
// implement Tabler; other structs render as FIELD/VALUE pairs.
package output
