package config

import "fmt"

// AgentType identifies a supported coding agent CLI.
type AgentType string

const (
	AgentClaude   AgentType = "claude"
	AgentGemini   AgentType = "gemini"
	AgentCodex    AgentType = "codex"
	AgentOpencode AgentType = "opencode"
)

// AgentPreset describes how to invoke one vendor CLI. The preset is the
// only place vendor flags live; everything above it treats the agent as an
// opaque executable.
type AgentPreset struct {
	Name    AgentType
	Command string

	// ResumeFlag resumes a previously observed upstream session handle.
	ResumeFlag string
	// ModelFlag selects the model, empty if unsupported.
	ModelFlag string
	// PromptFlag passes a system prompt, empty if unsupported.
	PromptFlag string
	// AutoApproveFlag skips permission prompts, empty if unsupported.
	AutoApproveFlag string

	// ProcessNames are the executable names the agent may appear as in the
	// process table (some CLIs launch through node).
	ProcessNames []string
}

var agentPresets = map[AgentType]*AgentPreset{
	AgentClaude: {
		Name:            AgentClaude,
		Command:         "claude",
		ResumeFlag:      "--resume",
		ModelFlag:       "--model",
		PromptFlag:      "--append-system-prompt",
		AutoApproveFlag: "--dangerously-skip-permissions",
		ProcessNames:    []string{"claude", "node"},
	},
	AgentGemini: {
		Name:         AgentGemini,
		Command:      "gemini",
		ModelFlag:    "--model",
		ProcessNames: []string{"gemini", "node"},
	},
	AgentCodex: {
		Name:         AgentCodex,
		Command:      "codex",
		ResumeFlag:   "resume",
		ModelFlag:    "--model",
		ProcessNames: []string{"codex"},
	},
	AgentOpencode: {
		Name:         AgentOpencode,
		Command:      "opencode",
		ResumeFlag:   "--session",
		ModelFlag:    "--model",
		ProcessNames: []string{"opencode", "node"},
	},
}

// GetAgentPreset returns the preset for an agent type, or nil if unknown.
func GetAgentPreset(t AgentType) *AgentPreset {
	return agentPresets[t]
}

// ValidateAgentType rejects agent types outside the closed set.
func ValidateAgentType(s string) (AgentType, error) {
	t := AgentType(s)
	if _, ok := agentPresets[t]; !ok {
		return "", fmt.Errorf("invalid agent type %q", s)
	}
	return t, nil
}

// LaunchArgs builds the argv that starts the agent inside a pane.
// resumeID, model, and systemPrompt are optional; unsupported options are
// silently skipped for vendors that lack the flag.
func (p *AgentPreset) LaunchArgs(resumeID, model, systemPrompt string, autoApprove bool) []string {
	args := []string{p.Command}
	if resumeID != "" && p.ResumeFlag != "" {
		args = append(args, p.ResumeFlag, resumeID)
	}
	if model != "" && p.ModelFlag != "" {
		args = append(args, p.ModelFlag, model)
	}
	if systemPrompt != "" && p.PromptFlag != "" {
		args = append(args, p.PromptFlag, systemPrompt)
	}
	if autoApprove && p.AutoApproveFlag != "" {
		args = append(args, p.AutoApproveFlag)
	}
	return args
}
