package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// secretTimeout bounds external secret lookups during Load.
const secretTimeout = 10 * time.Second

// ResolveValue expands a config value that may point at a secret:
//
//	op://vault/item/field   1Password item, read with `op read`
//	srv://record/path       https URL built from the first DNS SRV answer
//	$(command)              trimmed stdout of a shell command
//	${VAR} or $VAR          environment variable
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
		return runSecretCommand("sh", "-c", value[2:len(value)-1])
	default:
		return expandEnv(value), nil
	}
}

func expandEnv(value string) string {
	return os.Expand(value, os.Getenv)
}

// readOnePassword accepts an optional ?account= query parameter.
func readOnePassword(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("1password: invalid reference %s: %w", ref, err)
	}
	item := "op://" + u.Host + u.Path
	args := []string{"read", item}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}
	out, err := runSecretCommand("op", args...)
	if err != nil {
		return "", fmt.Errorf("1password: %s: %w", item, err)
	}
	return out, nil
}

func lookupSRV(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid srv:// URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("srv:// URL missing record: %s", ref)
	}
	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()
	_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "", "", u.Host)
	if err != nil {
		return "", fmt.Errorf("SRV lookup failed for %s: %w", u.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no SRV records found for %s", u.Host)
	}
	host := strings.TrimSuffix(addrs[0].Target, ".")
	return fmt.Sprintf("https://%s:%d%s", host, addrs[0].Port, u.Path), nil
}

func runSecretCommand(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("command failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
