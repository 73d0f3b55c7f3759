package main

import "github.com/rudransh-shrivastava/gossip-it/internal/cli"

func main() {
	cli.Execute()
}
