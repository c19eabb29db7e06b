package main

import "github.com/schoolist/edgeservice/cmd/edgeservice/cmd"

func main() {
	cmd.Execute()
}
