package main

import "github.com/k1LoW/topng/cmd"

func main() {
	cmd.Execute()
}
