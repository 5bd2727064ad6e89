/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/composite-order-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// compositeOrderGatewayCmd represents the composite-order-gateway command
var compositeOrderGatewayCmd = &cobra.Command{
	Use:   "composite-order-gateway",
	Short: "Start the Composite Order Gateway service",
	Long: `The Composite Order Gateway accepts grid, OCO, bracket and TWAP orders over
HTTP, places their legs on the configured exchange and keeps one monitor per
order running until it reaches a terminal status.`,
	Run: bootstrap.StartCompositeOrderGateway,
}

func init() {
	rootCmd.AddCommand(compositeOrderGatewayCmd)
}
