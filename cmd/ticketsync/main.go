package main

import (
	"os"

	"github.com/sauerdaniel/ticketsync/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
