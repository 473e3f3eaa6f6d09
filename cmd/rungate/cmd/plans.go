package cmd

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/viant/afs"
)

var plansCmd = &cobra.Command{
	Use:   "plans [location]",
	Short: "List or inspect agent plans",
	Long: `Without arguments, lists the plan definitions found under the configured
plans base URL. With a location, loads that plan and prints its goal, steps
and tools.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	srv, closer, err := newService(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)
	defer func() { _ = srv.Shutdown(ctx) }()

	if len(args) > 0 {
		aPlan, err := srv.Runtime().LoadPlan(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", aPlan.ID, aPlan.Goal)
		for _, step := range aPlan.OrderedSteps() {
			fmt.Printf("  step %-12s %s\n", step.ID, step.Kind)
		}
		for _, tool := range aPlan.ToolSet() {
			fmt.Printf("  tool %-12s %s\n", tool.Name, tool.Description)
		}
		return nil
	}

	baseURL := srv.Config().Plans.BaseURL
	if baseURL == "" {
		return fmt.Errorf("no plans base URL configured; pass a plan location or set plans.base_url")
	}
	objects, err := afs.New().List(ctx, baseURL)
	if err != nil {
		return fmt.Errorf("failed to list plans at %s: %w", baseURL, err)
	}
	var found int
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		ext := path.Ext(object.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		found++
		fmt.Println(strings.TrimSuffix(object.Name(), ext))
	}
	if found == 0 {
		fmt.Printf("no plans found at %s\n", baseURL)
	}
	return nil
}
