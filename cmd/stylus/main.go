package main

import "github.com/relabs-tech/inertial_stylus/internal/cmd"

func main() {
	cmd.Execute()
}
