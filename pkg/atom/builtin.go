package atom

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/term"

	"github.com/aretw0/weft/pkg/safepath"
)

// Implementation identifiers as they appear in flow.registry.json. The
// registry maps an atom's public name to one of these; anything else is
// BROKEN at boot.
const (
	ImplManualIntervention = "weft/atoms.ManualIntervention"
	ImplFlowEngine         = "weft/atoms.FlowEngine"
	ImplRunCommand         = "weft/atoms.RunCommand"
	ImplRenderTemplate     = "weft/atoms.RenderTemplate"
	ImplWaitApproval       = "weft/atoms.WaitApproval"
	ImplStateUpdate        = "weft/atoms.StateUpdate"
)

// Builtins returns the catalog of compiled-in implementations. Dispatch is
// whitelist-only: the registry file selects from this map by identifier,
// never by scanning.
func Builtins() map[string]Factory {
	return map[string]Factory{
		ImplManualIntervention: func() Atom { return &ManualInterventionAtom{} },
		ImplFlowEngine:         func() Atom { return &FlowEngineAtom{} },
		ImplRunCommand:         func() Atom { return &RunCommandAtom{} },
		ImplRenderTemplate:     func() Atom { return &RenderTemplateAtom{} },
		ImplWaitApproval:       func() Atom { return &WaitApprovalAtom{} },
		ImplStateUpdate:        func() Atom { return &StateUpdateAtom{} },
	}
}

// ManualInterventionAtom is the fallback when no atom matches a task. It
// records a needs-human event and halts the run.
type ManualInterventionAtom struct{}

func (a *ManualInterventionAtom) Name() string { return "ManualIntervention" }

func (a *ManualInterventionAtom) Run(_ context.Context, _ Snapshot, args Args) Result {
	return Result{
		Status:  Failure,
		Message: fmt.Sprintf("manual intervention required for task: %s", args.TaskName),
		Events: []EventDraft{{
			Kind:    "needs_human",
			Payload: map[string]string{"task_id": args.TaskID, "task_name": args.TaskName},
		}},
	}
}

// FlowEngineAtom is the pseudo-atom for tasks carrying the flow metadata
// marker. Descent into a sub-workflow follows the task's ref and is handled
// by the engine before dispatch; this atom only acknowledges the dispatch
// and reports Success.
type FlowEngineAtom struct{}

func (a *FlowEngineAtom) Name() string { return "FlowEngine" }

func (a *FlowEngineAtom) Run(_ context.Context, _ Snapshot, _ Args) Result {
	return Result{Status: Success, Message: "flow dispatched"}
}

// RunCommandAtom shells out to a command — the delegation surface for
// per-service validation scripts. The command comes from Params["command"]
// or, absent that, the task name after its first ':'.
type RunCommandAtom struct {
	cmd *exec.Cmd
}

func (a *RunCommandAtom) Name() string { return "RunCommand" }

func (a *RunCommandAtom) Run(ctx context.Context, snap Snapshot, args Args) Result {
	command, _ := args.Params["command"].(string)
	if command == "" {
		if _, rest, ok := strings.Cut(args.TaskName, ":"); ok {
			command = strings.TrimSpace(rest)
		}
	}
	if command == "" {
		return Result{Status: Error, Message: "no command to run"}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = snap.String("system.root")
	a.cmd = cmd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Status: Error, Message: fmt.Sprintf("command failed to start: %v", err)}
		}
	}

	status := Success
	if exitCode != 0 {
		status = Failure
	}
	return Result{
		Status:  status,
		Message: fmt.Sprintf("command exited %d", exitCode),
		Exports: map[string]any{
			"last_command.exit_code": exitCode,
			"last_command.stdout":    stdout.String(),
		},
		Events: []EventDraft{{
			Kind: "command_finished",
			Payload: map[string]any{
				"command":   command,
				"exit_code": exitCode,
				"stderr":    stderr.String(),
			},
		}},
	}
}

// Cleanup kills a still-running command on interrupt.
func (a *RunCommandAtom) Cleanup(_ context.Context) error {
	if a.cmd != nil && a.cmd.Process != nil {
		return a.cmd.Process.Kill()
	}
	return nil
}

// RenderTemplateAtom renders a text/template over the context snapshot into
// a jailed output file.
type RenderTemplateAtom struct{}

func (a *RenderTemplateAtom) Name() string { return "RenderTemplate" }

func (a *RenderTemplateAtom) Run(_ context.Context, snap Snapshot, args Args) Result {
	src, _ := args.Params["template"].(string)
	out, _ := args.Params["output"].(string)
	if src == "" || out == "" {
		return Result{Status: Error, Message: "render_template requires 'template' and 'output' params"}
	}

	root := snap.String("system.root")
	srcPath, err := safepath.Resolve(root, src)
	if err != nil {
		return Result{Status: Error, Message: err.Error()}
	}
	outPath, err := safepath.Resolve(root, out)
	if err != nil {
		return Result{Status: Error, Message: err.Error()}
	}

	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return Result{Status: Error, Message: fmt.Sprintf("read template: %v", err)}
	}
	tmpl, err := template.New(filepath.Base(src)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return Result{Status: Error, Message: fmt.Sprintf("parse template: %v", err)}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(snap)); err != nil {
		return Result{Status: Error, Message: fmt.Sprintf("render template: %v", err)}
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return Result{Status: Error, Message: err.Error()}
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return Result{Status: Error, Message: fmt.Sprintf("write output: %v", err)}
	}

	return Result{
		Status:  Success,
		Message: fmt.Sprintf("rendered %s", out),
		Exports: map[string]any{"last_render.output": out},
	}
}

// WaitApprovalAtom is the human gate. An approval file under
// approvals/<task_id>.ok grants passage; on an interactive terminal the
// operator is asked directly; otherwise the step parks in Waiting until a
// later resume finds the approval.
type WaitApprovalAtom struct {
	// Stdin override for tests.
	Stdin *os.File
}

func (a *WaitApprovalAtom) Name() string { return "WaitApproval" }

func (a *WaitApprovalAtom) Run(_ context.Context, snap Snapshot, args Args) Result {
	flowDir := snap.String("system.flow_dir")
	if flowDir != "" {
		marker := filepath.Join(flowDir, "approvals", sanitizeID(args.TaskID)+".ok")
		if _, err := os.Stat(marker); err == nil {
			return Result{
				Status:  Success,
				Message: "approval marker found",
				Exports: map[string]any{"approved": true},
			}
		}
	}

	in := a.Stdin
	if in == nil {
		in = os.Stdin
	}
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprintf(os.Stderr, "Approve %q? [y/N] ", args.TaskName)
		reader := bufio.NewReader(in)
		answer, _ := reader.ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(answer), "y") {
			return Result{Status: Success, Message: "approved interactively", Exports: map[string]any{"approved": true}}
		}
		return Result{Status: Failure, Message: "approval denied"}
	}

	return Result{
		Status:  Waiting,
		Message: "waiting for approval",
		Events: []EventDraft{{
			Kind:    "approval_requested",
			Payload: map[string]string{"task_id": args.TaskID, "task_name": args.TaskName},
		}},
	}
}

// StateUpdateAtom publishes its Params["set"] map into the context. A pure
// data step for seeding or correcting workflow variables.
type StateUpdateAtom struct{}

func (a *StateUpdateAtom) Name() string { return "StateUpdate" }

func (a *StateUpdateAtom) Run(_ context.Context, _ Snapshot, args Args) Result {
	set, _ := args.Params["set"].(map[string]any)
	if len(set) == 0 {
		return Result{Status: Error, Message: "state_update requires a non-empty 'set' map"}
	}
	exports := make(map[string]any, len(set))
	for k, v := range set {
		exports[k] = v
	}
	return Result{Status: Success, Message: "context updated", Exports: exports}
}

func sanitizeID(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(id)
}
