package main

import "github.com/vietddude/noteably/internal/cli"

func main() {
	cli.Execute()
}
