package diagram

import (
	"fmt"
	"strings"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// RenderRun renders the step graph as a Mermaid flowchart with the run's
// progress painted onto it.
func RenderRun(s *state.WorkflowState) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	fmt.Fprintf(&b, "    %%%% run %s (%s)\n", s.RunID, string(s.Event.Category))

	nodes := buildNodes(s)
	for _, n := range nodes {
		fmt.Fprintf(&b, "    %s\n", nodeDef(n))
	}

	for _, e := range graphEdges {
		label := ""
		if e.label != "" {
			label = fmt.Sprintf("|%s|", e.label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", safeID(e.from), label, safeID(e.to))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef current fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, n := range nodes {
		fmt.Fprintf(&b, "    class %s %s\n", safeID(n.step), string(n.status))
	}

	return b.String()
}

// nodeDef returns the Mermaid node definition. Review is a decision diamond,
// terminals are circles, everything else a box.
func nodeDef(n node) string {
	id := safeID(n.step)
	switch {
	case n.step == schema.StepReview:
		return fmt.Sprintf("%s{%q}", id, n.label)
	case n.step.IsTerminal():
		return fmt.Sprintf("%s((%q))", id, n.label)
	default:
		return fmt.Sprintf("%s[%q]", id, n.label)
	}
}

func safeID(step schema.StepName) string {
	return strings.ReplaceAll(string(step), "-", "_")
}
