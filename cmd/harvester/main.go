package main

import "github.com/turbolytics/harvester/internal/cmd"

func main() {
	cmd.Execute()
}
