package main

import (
	"screenrelay/internal/client/cli"
)

// ServerAddr is set via ldflags during build. e.g. -X main.ServerAddr=relay.example.com:8443
var ServerAddr = "localhost:8443"

func main() {
	cli.Init(ServerAddr)
	cli.Execute()
}
