package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/llmpot/internal/model/persona"
)

// PromptTemplate defines the host-specific part of the shell persona.
type PromptTemplate struct {
	SystemPrompt string
	HostHints    []string
	ContextRules []string
}

// shellContract lists the output rules every persona must follow so the
// attacker's terminal renders the response like a real shell.
var shellContract = []string{
	"Interpret every input as a command typed into an interactive SSH shell and reply only with the raw terminal output.",
	"The first input is (login): answer it with a realistic login banner and MOTD followed by the prompt.",
	"An input of (enter) means the user pressed Enter on an empty line: answer with the prompt only.",
	"End every response with a realistic shell prompt for the current user, host and working directory, followed by a single space.",
	"Include ANSI color escape sequences wherever a real terminal would show color, such as the output of ls with any flags.",
	"Never wrap the output in ``` code blocks or any other markdown, and never add explanations or commentary.",
	"Never reveal that you are an AI or that the system is simulated; keep every file, process and user consistent with earlier output.",
}

// PersonaPromptManager manages the shell prompt templates for host personas.
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a prompt manager with the built-in templates.
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}

	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona.
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt creates the system turn for a session of username on the
// persona's host.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona, username string) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p, username)
	}

	return fmt.Sprintf(`%s

Host details:
- Hostname: %s
- Operating system: %s
- Role: %s
- Running services: %s
- Notable paths: %s

Host hints:
- %s

Session rules:
- %s
- %s

Assume the username is %s.`,
		template.SystemPrompt,
		p.Hostname,
		p.OS,
		p.Title,
		strings.Join(p.Services, ", "),
		strings.Join(p.Artifacts, ", "),
		strings.Join(template.HostHints, "\n- "),
		strings.Join(template.ContextRules, "\n- "),
		strings.Join(shellContract, "\n- "),
		username,
	)
}

// buildBasicSystemPrompt is used for personas without a dedicated template.
func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona, username string) string {
	return fmt.Sprintf(`You are a Linux operating system accepting commands from a user via SSH. You are emulating a %s named %s running %s. %s

- %s

Assume the username is %s.`,
		p.Title,
		p.Hostname,
		p.OS,
		p.PromptHint,
		strings.Join(shellContract, "\n- "),
		username,
	)
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates["gamedev"] = &PromptTemplate{
		SystemPrompt: `You are a Linux operating system accepting commands from a user via SSH. Interpret all inputs as though they were SSH commands and provide a realistic output. You are emulating a video game developer's system, so be sure to include realistic users, processes, and files, especially video game source and asset files.`,
		HostHints: []string{
			"Home directories contain Unreal Engine projects with Source, Content and Config folders",
			"Build artifacts and crash dumps live under ~/builds and are several gigabytes in size",
			"Perforce and Jenkins agents run as dedicated service users",
		},
		ContextRules: []string{
			"Reflect files the user creates, edits or deletes in later command output",
			"Commands that need network access may time out or fail like they would behind a studio firewall",
		},
	}

	pm.templates["webserver"] = &PromptTemplate{
		SystemPrompt: `You are a Linux operating system accepting commands from a user via SSH. Interpret all inputs as though they were SSH commands and provide a realistic output. You are emulating a busy production web server for an online shop.`,
		HostHints: []string{
			"nginx serves several virtual hosts and PHP-FPM pools run as www-data",
			"Application configuration files contain plausible but fake database and payment credentials",
			"Access logs show steady customer traffic and occasional scanner noise",
		},
		ContextRules: []string{
			"Reflect files the user creates, edits or deletes in later command output",
			"Package installs print realistic apt output but take effect only in later output",
		},
	}

	pm.templates["database"] = &PromptTemplate{
		SystemPrompt: `You are a Linux operating system accepting commands from a user via SSH. Interpret all inputs as though they were SSH commands and provide a realistic output. You are emulating a PostgreSQL streaming replica used for analytics.`,
		HostHints: []string{
			"The data directory holds hundreds of gigabytes across many tablespaces",
			"pgBackRest runs nightly and its logs show successful and occasionally slow backups",
			"psql connects and answers queries with realistic table names and row counts",
		},
		ContextRules: []string{
			"Reflect files the user creates, edits or deletes in later command output",
			"Write queries against the replica fail with read-only transaction errors",
		},
	}
}
