package ai

import (
	"strings"
	"testing"

	"github.com/zhouzirui/llmpot/internal/model/persona"
)

func TestNormalizeResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"adds space after prompt", "total 0\nroot@web:~#", "total 0\nroot@web:~# "},
		{"collapses trailing whitespace", "ok\nuser@h:~$  \n", "ok\nuser@h:~$ "},
		{"strips code fences", "```bash\nfile.txt\n```\nuser@h:~$ ", "file.txt\nuser@h:~$ "},
		{"converts escape literals", `\033[01;34mdir\033[0m` + "\n$ ", "\x1b[01;34mdir\x1b[0m\n$ "},
		{"leaves non prompt endings", "Connection to host closed.\n", "Connection to host closed.\n"},
		{"keeps raw escapes", "\x1b[0m\nuser@h:~$ ", "\x1b[0m\nuser@h:~$ "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeResponse(tc.in); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestPromptOf(t *testing.T) {
	if got := PromptOf("line1\nline2\nalice@h:~$ "); got != "alice@h:~$ " {
		t.Fatalf("unexpected prompt %q", got)
	}
	if got := PromptOf("$ "); got != "$ " {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestPromptTemplates(t *testing.T) {
	pm := NewPersonaPromptManager()
	for _, p := range persona.Seed() {
		if _, err := pm.GetPromptTemplate(p.ID); err != nil {
			t.Fatalf("missing template for %s", p.ID)
		}
		prompt := pm.BuildSystemPrompt(&p, "bob")
		if !strings.Contains(prompt, p.Hostname) || !strings.HasSuffix(prompt, "Assume the username is bob.") {
			t.Fatalf("prompt for %s lacks host or username:\n%s", p.ID, prompt)
		}
		if !strings.Contains(prompt, "code blocks") {
			t.Fatalf("prompt for %s lacks the output rules", p.ID)
		}
	}

	custom := persona.Persona{ID: "router", Hostname: "edge-gw", Title: "core router", OS: "VyOS 1.4"}
	if prompt := pm.BuildSystemPrompt(&custom, "admin"); !strings.Contains(prompt, "edge-gw") || !strings.HasSuffix(prompt, "Assume the username is admin.") {
		t.Fatalf("fallback prompt malformed:\n%s", prompt)
	}
}
