// Command aoserv reads and changes the tables of an aoserv master.
package main

import "github.com/mesh-intelligence/aoserv/internal/cli"

func main() {
	cli.Execute()
}
