//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func enableANSI() {}

func registerSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}
