// leostore extracts records from HTML pages and keeps their change history
package main

import (
	"os"

	"github.com/nainya/leostore/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
