// Command test-hotkey is a manual check of the global hotkey combos without
// any Bluetooth hardware. Press the trigger or mode combo to see events.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--trigger ctrl+shift+t] [--mode ctrl+shift+m]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/rz67-trigger/internal/hotkey"
)

func main() {
	triggerCombo := flag.String("trigger", "ctrl+shift+t", "trigger combo, keys joined with +")
	modeCombo := flag.String("mode", "ctrl+shift+m", "mode combo, keys joined with +; empty disables it")
	flag.Parse()

	triggerKeys := strings.Split(*triggerCombo, "+")
	var modeKeys []string
	if *modeCombo != "" {
		modeKeys = strings.Split(*modeCombo, "+")
	}

	fmt.Printf("Listening for %s (trigger) and %s (mode)...\n", *triggerCombo, *modeCombo)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(triggerKeys, modeKeys)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		n := 0
		for ev := range listener.Events() {
			n++
			fmt.Printf("[%d] %s\n", n, ev.Type)
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
