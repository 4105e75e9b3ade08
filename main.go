package main

import "github.com/andresmejia3/aibum/cmd"

func main() {
	cmd.Execute()
}
