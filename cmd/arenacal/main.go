package main

import "github.com/MeKo-Tech/arenacal/cmd/arenacal/cmd"

func main() {
	cmd.Execute()
}
