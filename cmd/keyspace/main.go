package main

import (
	"github.com/polinanime/keyspace/internal/cmd"
)

func main() {
	cmd.Execute()
}
