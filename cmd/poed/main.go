// Command poed runs the proof-of-existence registry application and
// builds signed claim transactions.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
