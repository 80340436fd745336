package main

import (
	"fmt"
	"os"

	"github.com/toolhub/ghmcp/internal/mcp"
)

func main() {
	defs := mcp.ToolDefinitions()

	fmt.Fprintln(os.Stdout, "# MCP Tools (Generated)")
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "This file is generated from `internal/mcp/catalog.go`.")
	fmt.Fprintln(os.Stdout)

	for _, d := range defs {
		fmt.Fprintf(os.Stdout, "- `%s`\n", d.Name)
		if d.Description != "" {
			fmt.Fprintf(os.Stdout, "  - Description: %s\n", d.Description)
		}

		if len(d.Inputs) > 0 {
			fmt.Fprintln(os.Stdout, "  - Input:")
			for _, in := range d.Inputs {
				req := "optional"
				if in.Required {
					req = "required"
				}
				fmt.Fprintf(os.Stdout, "    - `%s` (%s, %s)\n", in.Name, in.Type, req)
			}
		}
		fmt.Fprintln(os.Stdout)
	}
}
