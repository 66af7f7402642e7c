// Package tui provides the interactive scan progress view.
//
// The view is a Bubble Tea program fed with batch.ProgressSnapshot values from
// the scanner. It is only started when stderr is a terminal.
package tui
