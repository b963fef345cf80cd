package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daz23456/workflow-sub005/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Workflow orchestration gateway",
	}
	logger.RegisterFlags(root)
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
