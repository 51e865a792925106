package main

import (
	"github.com/Paintersrp/outrider/internal/cli"
	"github.com/Paintersrp/outrider/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
