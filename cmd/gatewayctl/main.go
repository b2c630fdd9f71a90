// Command gatewayctl is the operator tool of the gateway. It generates wallet
// keys, issues API tokens and manages the database schema.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
