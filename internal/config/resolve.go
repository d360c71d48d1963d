package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// ResolveValue expands indirect config values so secrets and endpoints do
// not have to be written into the config file:
//   - op://vault/item/field   1Password secret via `op read`
//   - srv://record/path       DNS SRV lookup, yields https://host:port/path
//   - $(command)              trimmed stdout of a shell command
//   - ${VAR} or $VAR          environment variable
//
// Anything else is returned unchanged.
func ResolveValue(value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "op://"):
		return readOnePassword(value)
	case strings.HasPrefix(value, "srv://"):
		return lookupSRV(value)
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		return runCommand(value[2 : len(value)-1])
	default:
		return expandEnv(value), nil
	}
}

func readOnePassword(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("1password: invalid reference %s: %w", ref, err)
	}

	secret := "op://" + u.Host + u.Path
	args := []string{"read", secret}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}

	out, err := exec.Command("op", args...).Output()
	if err != nil {
		return "", fmt.Errorf("1password: read %s: %w", secret, commandError(err))
	}
	return strings.TrimSpace(string(out)), nil
}

func lookupSRV(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid srv:// URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("srv:// URL missing record: %s", ref)
	}

	_, addrs, err := net.LookupSRV("", "", u.Host)
	if err != nil {
		return "", fmt.Errorf("SRV lookup for %s: %w", u.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no SRV records for %s", u.Host)
	}

	// net.LookupSRV sorts by priority and randomizes by weight.
	target := strings.TrimSuffix(addrs[0].Target, ".")
	return fmt.Sprintf("https://%s:%d%s", target, addrs[0].Port, u.Path), nil
}

func runCommand(command string) (string, error) {
	out, err := exec.Command("sh", "-c", command).Output()
	if err != nil {
		return "", fmt.Errorf("command %q: %w", command, commandError(err))
	}
	return strings.TrimSpace(string(out)), nil
}

func commandError(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%s", strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}

// expandEnv expands a value that is entirely ${VAR} or $VAR.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") && !strings.ContainsAny(s[1:], " /:") {
		return os.Getenv(s[1:])
	}
	return s
}
