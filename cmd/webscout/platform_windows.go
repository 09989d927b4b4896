//go:build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
	"unsafe"
)

var (
	kernel32       = syscall.NewLazyDLL("kernel32.dll")
	getConsoleMode = kernel32.NewProc("GetConsoleMode")
	setConsoleMode = kernel32.NewProc("SetConsoleMode")
	getStdHandle   = kernel32.NewProc("GetStdHandle")
)

const (
	stdOutputHandle = ^uintptr(10) // STD_OUTPUT_HANDLE (-11)
	virtualTerminal = 0x0004       // ENABLE_VIRTUAL_TERMINAL_PROCESSING
)

// enableANSI turns on escape sequence handling in the Windows console.
// Progress falls back to plain text when the console refuses.
func enableANSI() {
	h, _, _ := getStdHandle.Call(stdOutputHandle)
	if h == 0 || h == ^uintptr(0) {
		noColor = true
		return
	}
	var mode uint32
	if r, _, _ := getConsoleMode.Call(h, uintptr(unsafe.Pointer(&mode))); r == 0 {
		noColor = true
		return
	}
	if r, _, _ := setConsoleMode.Call(h, uintptr(mode|virtualTerminal)); r == 0 {
		noColor = true
	}
}

// registerSignals only listens for Ctrl+C; Windows has no SIGTERM delivery.
func registerSignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
