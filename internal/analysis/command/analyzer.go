package command

import (
	"strings"
)

// Tactic labels what an attacker appears to be doing with a command line.
type Tactic string

const (
	None        Tactic = "none"
	Recon       Tactic = "recon"
	Credential  Tactic = "credential-access"
	Download    Tactic = "download"
	Persistence Tactic = "persistence"
	Privilege   Tactic = "privilege-escalation"
	Evasion     Tactic = "defense-evasion"
	Impact      Tactic = "impact"
	Mining      Tactic = "cryptomining"
)

// Decision is the classification of one input line.
type Decision struct {
	Tactic Tactic
	Score  int
}

var keywordBuckets = map[Tactic][]string{
	Recon: {
		"uname", "whoami", "id", "hostname", "ifconfig", "ip a", "ip addr", "netstat", "ss -",
		"ps aux", "ps -ef", "lscpu", "/proc/cpuinfo", "/proc/meminfo", "free -m", "df -h", "uptime",
		"cat /etc/os-release", "cat /etc/issue", "nproc", "w", "last", "lspci", "dmidecode",
	},
	Credential: {
		"/etc/shadow", "/etc/passwd", ".ssh/id_rsa", ".ssh/id_ed25519", ".bash_history", ".aws/credentials",
		".pgpass", ".my.cnf", "wp-config.php", ".env", "mimipenguin", "passwd", "chpasswd",
	},
	Download: {
		"wget ", "curl ", "tftp ", "ftpget", "scp ", "rsync ", "nc ", "ncat ", "busybox wget",
		"base64 -d", "python -c", "python3 -c", "perl -e", "/dev/tcp/",
	},
	Persistence: {
		"crontab", "/etc/cron", "authorized_keys", "systemctl enable", "/etc/rc.local", ".bashrc",
		".profile", "useradd", "adduser", "/etc/init.d", "nohup ",
	},
	Privilege: {
		"sudo ", "sudo -l", "su -", "chmod +s", "chmod 4755", "pkexec", "find / -perm", "getcap",
	},
	Evasion: {
		"history -c", "unset histfile", "rm -rf /var/log", "> /var/log", "shred ", "chattr ",
		"export histfile=/dev/null", "setenforce 0", "iptables -f", "ufw disable",
	},
	Impact: {
		"rm -rf /", "dd if=/dev/zero", "mkfs", ":(){ :|:& };:", "shutdown", "reboot", "kill -9 -1",
	},
	Mining: {
		"xmrig", "minerd", "cpuminer", "stratum+tcp", "nicehash", "monero", "cryptonight", "t-rex",
	},
}

// priority breaks ties; later tactics in the kill chain win.
var priority = map[Tactic]int{
	Recon:       1,
	Credential:  2,
	Download:    3,
	Privilege:   4,
	Persistence: 5,
	Evasion:     6,
	Mining:      7,
	Impact:      8,
}

// Classify tags an attacker command line with the tactic it most likely
// serves. Lines that match nothing are None.
func Classify(line string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(line))
	if normalized == "" {
		return Decision{Tactic: None}
	}

	scores := make(map[Tactic]int)
	for tactic, keywords := range keywordBuckets {
		for _, word := range keywords {
			if matches(normalized, word) {
				scores[tactic] += 3
			}
		}
	}

	// Chained commands are typical of scripted droppers.
	if chained := strings.Count(normalized, "&&") + strings.Count(normalized, ";") + strings.Count(normalized, "|"); chained > 0 && scores[Download] > 0 {
		scores[Download] += chained
	}

	best := Decision{Tactic: None}
	for tactic, score := range scores {
		if score > best.Score || (score == best.Score && score > 0 && priority[tactic] > priority[best.Tactic]) {
			best = Decision{Tactic: tactic, Score: score}
		}
	}
	return best
}

// matches reports whether word occurs in line. Short bare words must match a
// whole token so "id" does not fire on "video".
func matches(line, word string) bool {
	if strings.ContainsAny(word, " /.-:=>") || len(word) > 4 {
		return strings.Contains(line, word)
	}
	for _, field := range strings.FieldsFunc(line, isSeparator) {
		if field == word {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ';', '|', '&', '(', ')', '`', '$':
		return true
	}
	return false
}
