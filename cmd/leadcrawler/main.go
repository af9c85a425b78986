package main

import "github.com/JakeFAU/leadcrawler/cmd"

func main() {
	cmd.Execute()
}
