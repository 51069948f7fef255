package agentplancli

import (
	"fmt"
	"strings"

	"github.com/contenox/agentplan/planservice"
	"github.com/contenox/agentplan/planstore"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:          "plan",
	Short:        "Manage execution plans (new, list, show, approve, reject, cancel, resume).",
	SilenceUsage: true,
}

var planNewCmd = &cobra.Command{
	Use:   "new <goal>",
	Short: "Create a plan from a goal and run it until it pauses or finishes.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanNew,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your plans, newest first.",
	Args:  cobra.NoArgs,
	RunE:  runPlanList,
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan's status and step history.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve the step a paused plan is waiting on and resume it.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanApprove,
}

var planRejectCmd = &cobra.Command{
	Use:   "reject <plan-id>",
	Short: "Reject the pending step and cancel the plan.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanReject,
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel <plan-id>",
	Short: "Cancel a plan that has not yet finished.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanCancel,
}

var planResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Pick up plans left running by an interrupted process.",
	Args:  cobra.NoArgs,
	RunE:  runPlanResume,
}

func init() {
	planCmd.AddCommand(planNewCmd, planListCmd, planShowCmd, planApproveCmd, planRejectCmd, planCancelCmd, planResumeCmd)
	planNewCmd.Flags().String("hint", "", "Optional step hints for the planner, one step per line")
	planNewCmd.Flags().String("urgency", "", "Urgency of the goal: low, normal, or high")
	planListCmd.Flags().String("status", "", "Filter by plan status")
}

func runPlanNew(cmd *cobra.Command, args []string) error {
	goal := args[0]
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	hint, _ := cmd.Flags().GetString("hint")
	urgency, _ := cmd.Flags().GetString("urgency")

	fmt.Printf("Generating plan for: %s...\n", goal)

	plan, err := engine.Service.CreateAndStart(ctx, planservice.CreateRequest{
		Goal:      goal,
		StepsHint: hint,
		Urgency:   planstore.Urgency(strings.ToLower(strings.TrimSpace(urgency))),
		OwnerID:   engine.Actor,
	})
	if err != nil {
		return err
	}

	printPlan(plan)
	if plan.Status == planstore.PlanStatusPaused {
		fmt.Printf("\nPlan is waiting for approval. Run: agentplan plan approve %s\n", plan.ID)
	}
	return nil
}

func runPlanList(cmd *cobra.Command, _ []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	status, _ := cmd.Flags().GetString("status")
	plans, err := engine.Service.List(ctx, engine.Actor, planstore.PlanStatus(status))
	if err != nil {
		return err
	}

	if len(plans) == 0 {
		fmt.Println("No plans yet. Run: agentplan plan new <goal>")
		return nil
	}
	for _, p := range plans {
		fmt.Printf("%s  %-10s  %s\n", p.ID, p.Status, truncate(p.Goal, 60))
	}
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	plan, err := engine.Service.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if plan.OwnerID != engine.Actor {
		return planservice.ErrNotOwner
	}

	printPlan(plan)
	return nil
}

func runPlanApprove(cmd *cobra.Command, args []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	plan, err := engine.Service.Approve(ctx, args[0], engine.Actor)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}

func runPlanReject(cmd *cobra.Command, args []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	plan, err := engine.Service.Reject(ctx, args[0], engine.Actor)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}

func runPlanCancel(cmd *cobra.Command, args []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	plan, err := engine.Service.Cancel(ctx, args[0], engine.Actor)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}

func runPlanResume(cmd *cobra.Command, _ []string) error {
	ctx, engine, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Runner.ResumeOrphans(ctx); err != nil {
		return err
	}
	fmt.Println("Resume pass complete.")
	return nil
}
