package cmd

import "github.com/mitchellh/colorstring"

func printTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}
