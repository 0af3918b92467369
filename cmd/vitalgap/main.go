/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ssargent/vitalgap/cmd/vitalgap/cmd"

func main() {
	cmd.Execute()
}
