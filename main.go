// The main package for the bulk-scraper executable.
package main

import "github.com/JakeFAU/bulk-scraper/cmd"

func main() {
	cmd.Execute()
}
