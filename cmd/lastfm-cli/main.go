// Package main is lastfm-cli, a command-line client for a lastfm-proxy
// deployment. It never holds the Last.fm API secret; privileged methods are
// signed by the proxy.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via ldflags: -ldflags "-X main.version=v1.0.0".
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
