package main

import (
	"github.com/TilBlechschmidt/launch/internal/cli"
	"github.com/TilBlechschmidt/launch/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
