package main

import (
	"github.com/ColonelBlimp/micmap/cmd"
	"github.com/ColonelBlimp/micmap/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
