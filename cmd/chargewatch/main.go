package main

import (
	"charge-telemetry-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
