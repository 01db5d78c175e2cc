// Command npms-analyzer continuously analyzes and scores packages from an
// npm-compatible registry: a realtime and a stale observer enqueue package
// names, a consumer drains the queue running each one through the
// acquire/download/evaluate/persist pipeline, and a scoring cycle
// aggregates the resulting population into a published, normalized score.
package main

import (
	"github.com/npms-io/npms-analyzer/cli"
)

func main() {
	cli.Execute()
}
