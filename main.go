/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "skyclaw/cmd"

func main() {
	cmd.Execute()
}
