/*
Copyright © 2026 Harits Fadlilah <haritsf.dev@gmail.com>
*/
package main

import "github.com/haritsf/deribit-collector/cmd"

func main() {
	cmd.Execute()
}
