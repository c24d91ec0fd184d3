package main

import "github.com/khaledhikmat/fr-go/cmd"

func main() {
	cmd.Execute()
}
