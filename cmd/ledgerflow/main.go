package main

import "github.com/vietddude/ledgerflow/internal/cli"

func main() {
	cli.Execute()
}
