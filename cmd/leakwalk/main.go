package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"
)

var build = "develop"

const serviceName = "leakwalk"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	os.Exit(execute(os.Args[1:]))
}
