package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/keystore"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

// ResolveKey returns value when it is set, otherwise the content of path.
// Neither set yields "" and a warning.
func ResolveKey(ctx context.Context, store keystore.FileStore, log *logger.Logger, value, path, label string) (string, error) {
	if strings.TrimSpace(value) != "" {
		log.Info(label + " provided directly.")
		return unescapeJSON(strings.TrimSpace(value)), nil
	}
	if strings.TrimSpace(path) != "" {
		log.Info(label + " loaded from file: " + path)
		content, err := store.ReadText(ctx, path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return content, nil
	}
	log.Warn(label + " not provided.")
	return "", nil
}

// unescapeJSON undoes shell escaping of a JSON object passed on the command line.
func unescapeJSON(value string) string {
	if !strings.HasPrefix(value, `{\"`) {
		return value
	}
	return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(value)
}
