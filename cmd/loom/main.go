// Command loom builds and watches JavaScript/CSS module bundles.
package main

import "github.com/loom-build/loom/cmd"

func main() {
	cmd.Execute()
}
