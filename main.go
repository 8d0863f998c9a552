package main

import "github.com/nanomips-lld/relax/cmd/nanorelax"

func main() {
	cmd.Execute()
}
