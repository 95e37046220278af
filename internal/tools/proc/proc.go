// Package proc configures subprocess cleanup for tool commands.
package proc
