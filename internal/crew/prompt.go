package crew

import (
	"fmt"
	"strings"
)

func systemPrompt(a Agent, values map[string]any) (string, error) {
	role, err := a.Role.Format(values)
	if err != nil {
		return "", fmt.Errorf("render role: %w", err)
	}
	backstory, err := a.Backstory.Format(values)
	if err != nil {
		return "", fmt.Errorf("render backstory: %w", err)
	}
	goal, err := a.Goal.Format(values)
	if err != nil {
		return "", fmt.Errorf("render goal: %w", err)
	}
	return fmt.Sprintf("You are %s. %s\nYour personal goal is: %s", role, backstory, goal), nil
}

func taskPrompt(t Task, values map[string]any, results []toolResult, previous []TaskOutput) (string, error) {
	desc, err := t.Description.Format(values)
	if err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Task: %s\n\n", desc)
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&sb, "This is the expected criteria for your final answer:\n%s\n\n", t.ExpectedOutput)
	}

	if len(results) > 0 {
		sb.WriteString("# Tool results\n")
		for _, r := range results {
			fmt.Fprintf(&sb, "## %s\n%s\n\n", r.name, strings.TrimSpace(r.output))
		}
	}

	if len(previous) > 0 {
		sb.WriteString("# Context from earlier tasks\n")
		for _, p := range previous {
			fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", p.Task, p.Agent, p.Raw)
		}
	}

	sb.WriteString("Give your complete final answer now. Base it only on the report and the context above.")
	return sb.String(), nil
}
