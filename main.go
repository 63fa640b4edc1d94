package main

import "github.com/dhcgn/mbox-to-csv/cmd"

func main() {
	cmd.Execute()
}
